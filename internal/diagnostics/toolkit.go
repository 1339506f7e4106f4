package diagnostics

import (
	"context"
	"math"
	"os"
	"runtime"
	"time"

	"github.com/bebsworthy/diagmcp/internal/config"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// Environment is resolved once at startup
type Environment struct {
	GOOS     string
	Elevated bool
}

// IsWindows reports whether probes should use Windows tooling
func (e Environment) IsWindows() bool {
	return e.GOOS == "windows"
}

// DetectEnvironment resolves the running platform and privilege level.
// On Windows "net session" only succeeds for administrators.
func DetectEnvironment(ctx context.Context, runner CommandRunner) Environment {
	env := Environment{GOOS: runtime.GOOS}
	if env.IsWindows() {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_, err := runner.Run(ctx, "net", "session")
		env.Elevated = err == nil
		return env
	}
	env.Elevated = os.Geteuid() == 0
	return env
}

// Toolkit holds everything a probe needs to reach the host
type Toolkit struct {
	Runner CommandRunner
	Stats  HostStats
	Env    Environment
	Config config.DiagnosticsConfig

	// Now is used for driver age checks
	Now func() time.Time
}

// NewToolkit builds a toolkit backed by os/exec and gopsutil
func NewToolkit(cfg config.DiagnosticsConfig) *Toolkit {
	runner := ExecRunner{MaxOutput: cfg.MaxOutputBytes()}
	return &Toolkit{
		Runner: runner,
		Stats:  GopsutilStats{},
		Env:    DetectEnvironment(context.Background(), runner),
		Config: cfg,
		Now:    time.Now,
	}
}

func (tk *Toolkit) now() time.Time {
	if tk.Now != nil {
		return tk.Now()
	}
	return time.Now()
}

func (tk *Toolkit) thresholds() config.ThresholdsConfig {
	return tk.Config.Thresholds
}

// timeout returns the configured override for name, or def
func (tk *Toolkit) timeout(name string, def time.Duration) time.Duration {
	if d, ok := tk.Config.Timeouts[name]; ok && d > 0 {
		return d
	}
	return def
}

// Capability names
const (
	CapAnalyzeCPUThermal     = "analyze_cpu_thermal"
	CapInspectDiskUsage      = "inspect_disk_usage"
	CapCheckMemoryUsage      = "check_memory_usage"
	CapCheckPowerSettings    = "check_power_settings"
	CapVerifyEventLogs       = "verify_event_logs"
	CapScanSystemFiles       = "scan_system_files"
	CapCheckDISMHealth       = "check_dism_health"
	CapCheckNetwork          = "check_network_connectivity"
	CapVerifyDriverIntegrity = "verify_driver_integrity"
	CapCheckGPUStatus        = "check_gpu_status"
)

// Builtins returns every built-in capability in registry order
func Builtins(tk *Toolkit) []Capability {
	specs := []struct {
		spec  Spec
		probe Probe
	}{
		{Spec{CapAnalyzeCPUThermal, "Analyze CPU temperature, utilisation and frequency", protocol.CategoryThermal, 15 * time.Second}, tk.analyzeCPUThermal},
		{Spec{CapInspectDiskUsage, "Inspect disk space and I/O on every partition", protocol.CategoryDisk, 30 * time.Second}, tk.inspectDiskUsage},
		{Spec{CapCheckMemoryUsage, "Check RAM and swap usage and the largest processes", protocol.CategoryMemory, 30 * time.Second}, tk.checkMemoryUsage},
		{Spec{CapCheckPowerSettings, "Check the active power plan and battery status", protocol.CategoryPower, 20 * time.Second}, tk.checkPowerSettings},
		{Spec{CapVerifyEventLogs, "Verify Windows event logs for crashes and blue screens", protocol.CategoryEventLog, 90 * time.Second}, tk.verifyEventLogs},
		{Spec{CapScanSystemFiles, "Scan system files for corruption with SFC", protocol.CategorySystemFiles, 600 * time.Second}, tk.scanSystemFiles},
		{Spec{CapCheckDISMHealth, "Check Windows image health with DISM", protocol.CategorySystemFiles, 180 * time.Second}, tk.checkDISMHealth},
		{Spec{CapCheckNetwork, "Check network connectivity and latency", protocol.CategoryNetwork, 15 * time.Second}, tk.checkNetworkConnectivity},
		{Spec{CapVerifyDriverIntegrity, "Verify driver signatures and age", protocol.CategorySystemFiles, 60 * time.Second}, tk.verifyDriverIntegrity},
		{Spec{CapCheckGPUStatus, "Check graphics adapter status and driver", protocol.CategoryGPU, 20 * time.Second}, tk.checkGPUStatus},
	}

	caps := make([]Capability, 0, len(specs))
	for _, s := range specs {
		s.spec.Timeout = tk.timeout(s.spec.Name, s.spec.Timeout)
		caps = append(caps, NewCapability(s.spec, s.probe))
	}
	return caps
}

// ladder classifies value against a high and a medium threshold
func ladder(value, high, medium float64) protocol.Severity {
	switch {
	case value > high:
		return protocol.SeverityHigh
	case value > medium:
		return protocol.SeverityMedium
	default:
		return protocol.SeverityLow
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func toGB(bytes uint64) float64 {
	return round2(float64(bytes) / (1024 * 1024 * 1024))
}
