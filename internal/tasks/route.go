package tasks

import (
	"strings"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Rule selects a capability for a task, either by its Category tag or by a
// keyword in the lower-cased task text. A rule never matches a task containing
// one of its Unless keywords.
type Rule struct {
	Capability string
	Category   protocol.Category
	Keywords   []string
	Unless     []string
}

// Rules is the capability selection table in priority order.
// "driver" contains the disk keyword "drive", so the disk rule yields to
// driver requests. The SFC rule yields to DISM and driver requests, which
// classify as system_files too.
var Rules = []Rule{
	{Capability: "analyze_cpu_thermal", Category: protocol.CategoryThermal, Keywords: []string{"cpu", "thermal", "temperature"}},
	{Capability: "inspect_disk_usage", Category: protocol.CategoryDisk, Keywords: []string{"disk", "storage"}, Unless: []string{"driver"}},
	{Capability: "check_memory_usage", Category: protocol.CategoryMemory, Keywords: []string{"memory", "ram"}},
	{Capability: "check_power_settings", Category: protocol.CategoryPower, Keywords: []string{"power", "battery"}},
	{Capability: "verify_event_logs", Category: protocol.CategoryEventLog, Keywords: []string{"event", "log", "crash"}},
	{Capability: "scan_system_files", Category: protocol.CategorySystemFiles, Keywords: []string{"sfc", "system file"}, Unless: []string{"dism", "driver"}},
	{Capability: "check_dism_health", Keywords: []string{"dism"}},
	{Capability: "check_network_connectivity", Category: protocol.CategoryNetwork, Keywords: []string{"network", "internet", "ping", "wifi", "connection"}},
	{Capability: "verify_driver_integrity", Keywords: []string{"driver"}},
	{Capability: "check_gpu_status", Category: protocol.CategoryGPU, Keywords: []string{"gpu", "graphics", "video"}},
}

// SelectCapability returns the capability for a task classified as category.
// The first rule tagged with category wins; only when none applies are the
// keywords scanned, in table order. The empty string means no rule matched.
func SelectCapability(category protocol.Category, task string) string {
	lower := strings.ToLower(task)
	for _, rule := range Rules {
		if rule.Category != "" && rule.Category == category && !rule.excluded(lower) {
			return rule.Capability
		}
	}
	for _, rule := range Rules {
		if rule.matchesKeyword(lower) && !rule.excluded(lower) {
			return rule.Capability
		}
	}
	return ""
}

func (r Rule) excluded(lower string) bool {
	for _, kw := range r.Unless {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (r Rule) matchesKeyword(lower string) bool {
	for _, kw := range r.Keywords {
		if containsKeyword(lower, kw) {
			return true
		}
	}
	return false
}
