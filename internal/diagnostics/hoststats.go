package diagnostics

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostStats exposes the host counters the probes read
type HostStats interface {
	CPUPercent(ctx context.Context, perCPU bool) ([]float64, error)
	CPUCounts(ctx context.Context, logical bool) (int, error)
	CPUInfo(ctx context.Context) ([]cpu.InfoStat, error)
	Temperatures(ctx context.Context) ([]host.TemperatureStat, error)
	Partitions(ctx context.Context) ([]disk.PartitionStat, error)
	DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error)
	DiskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error)
	VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error)
	SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error)
	TopProcesses(ctx context.Context, n int) ([]ProcessMemory, error)
	Interfaces(ctx context.Context) ([]psnet.InterfaceStat, error)
	Battery(ctx context.Context) (*BatteryStatus, error)
}

// ProcessMemory is one entry of the top-memory process list
type ProcessMemory struct {
	PID     int32   `json:"pid"`
	Name    string  `json:"name"`
	RSSMB   float64 `json:"rss_mb"`
	Percent float64 `json:"memory_percent"`
}

// BatteryStatus describes the primary battery
type BatteryStatus struct {
	Percent float64 `json:"percent"`
	Plugged bool    `json:"power_plugged"`
}

// GopsutilStats reads host counters with gopsutil
type GopsutilStats struct {
	// PowerSupplyDir is the Linux power_supply class directory. Empty means /sys/class/power_supply.
	PowerSupplyDir string
}

// CPUPercent samples utilisation over one second
func (GopsutilStats) CPUPercent(ctx context.Context, perCPU bool) ([]float64, error) {
	return cpu.PercentWithContext(ctx, time.Second, perCPU)
}

func (GopsutilStats) CPUCounts(ctx context.Context, logical bool) (int, error) {
	return cpu.CountsWithContext(ctx, logical)
}

func (GopsutilStats) CPUInfo(ctx context.Context) ([]cpu.InfoStat, error) {
	return cpu.InfoWithContext(ctx)
}

func (GopsutilStats) Temperatures(ctx context.Context) ([]host.TemperatureStat, error) {
	return host.SensorsTemperaturesWithContext(ctx)
}

func (GopsutilStats) Partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return disk.PartitionsWithContext(ctx, false)
}

func (GopsutilStats) DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	return disk.UsageWithContext(ctx, path)
}

func (GopsutilStats) DiskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return disk.IOCountersWithContext(ctx)
}

func (GopsutilStats) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return mem.VirtualMemoryWithContext(ctx)
}

func (GopsutilStats) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	return mem.SwapMemoryWithContext(ctx)
}

// TopProcesses returns the n processes with the largest resident set.
// Processes that vanish or deny access while being read are skipped.
func (GopsutilStats) TopProcesses(ctx context.Context, n int) ([]ProcessMemory, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]ProcessMemory, 0, len(procs))
	for _, p := range procs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		info, err := p.MemoryInfoWithContext(ctx)
		if err != nil || info == nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		percent, _ := p.MemoryPercentWithContext(ctx)
		entries = append(entries, ProcessMemory{
			PID:     p.Pid,
			Name:    name,
			RSSMB:   round2(float64(info.RSS) / (1024 * 1024)),
			Percent: round2(float64(percent)),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RSSMB > entries[j].RSSMB })
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

func (GopsutilStats) Interfaces(ctx context.Context) ([]psnet.InterfaceStat, error) {
	return psnet.InterfacesWithContext(ctx)
}

// Battery reads the Linux power_supply class. It returns nil without error
// when no battery is present or the platform exposes none.
func (s GopsutilStats) Battery(ctx context.Context) (*BatteryStatus, error) {
	if runtime.GOOS != "linux" {
		return nil, nil
	}

	dir := s.PowerSupplyDir
	if dir == "" {
		dir = "/sys/class/power_supply"
	}
	return readPowerSupply(dir)
}

// readPowerSupply scans a power_supply directory for a battery and any online mains adapter
func readPowerSupply(dir string) (*BatteryStatus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var battery *BatteryStatus
	acOnline := false
	for _, entry := range entries {
		supply := filepath.Join(dir, entry.Name())
		switch readSysValue(supply, "type") {
		case "Battery":
			if battery != nil {
				continue
			}
			capacity, err := strconv.ParseFloat(readSysValue(supply, "capacity"), 64)
			if err != nil {
				continue
			}
			status := readSysValue(supply, "status")
			battery = &BatteryStatus{
				Percent: capacity,
				Plugged: status == "Charging" || status == "Full",
			}
		case "Mains", "USB":
			if readSysValue(supply, "online") == "1" {
				acOnline = true
			}
		}
	}

	if battery != nil && acOnline {
		battery.Plugged = true
	}
	return battery, nil
}

func readSysValue(dir, name string) string {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
