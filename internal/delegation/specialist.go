package delegation

import (
	"github.com/bebsworthy/diagmcp/internal/diagnostics"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Specialist handles the tasks of a set of categories through an allowlist of tools
type Specialist struct {
	Name       string
	Categories []protocol.Category
	Tools      []string
}

// DefaultSpecialists splits the capability set between hardware and system
// health on one side and logs and integrity on the other.
var DefaultSpecialists = []Specialist{
	{
		Name: "system",
		Categories: []protocol.Category{
			protocol.CategoryThermal,
			protocol.CategoryDisk,
			protocol.CategoryMemory,
			protocol.CategoryPower,
			protocol.CategoryNetwork,
			protocol.CategoryGPU,
			protocol.CategoryGeneral,
		},
		Tools: []string{
			diagnostics.CapAnalyzeCPUThermal,
			diagnostics.CapInspectDiskUsage,
			diagnostics.CapCheckMemoryUsage,
			diagnostics.CapCheckPowerSettings,
			diagnostics.CapCheckNetwork,
			diagnostics.CapCheckGPUStatus,
		},
	},
	{
		Name: "security",
		Categories: []protocol.Category{
			protocol.CategoryEventLog,
			protocol.CategorySystemFiles,
		},
		Tools: []string{
			diagnostics.CapVerifyEventLogs,
			diagnostics.CapScanSystemFiles,
			diagnostics.CapCheckDISMHealth,
			diagnostics.CapVerifyDriverIntegrity,
		},
	},
}

// Handles reports whether category belongs to the specialist
func (s Specialist) Handles(category protocol.Category) bool {
	for _, c := range s.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Allows reports whether tool is on the specialist's allowlist
func (s Specialist) Allows(tool string) bool {
	for _, t := range s.Tools {
		if t == tool {
			return true
		}
	}
	return false
}
