package diagnostics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"

	"github.com/bebsworthy/diagmcp/internal/config"
)

// fakeResponse is the canned output of one command
type fakeResponse struct {
	out string
	err error
}

// fakeRunner answers commands by prefix match on "name arg1 arg2 ..."
type fakeRunner struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: make(map[string]fakeResponse)}
}

func (f *fakeRunner) on(prefix, out string, err error) *fakeRunner {
	f.responses[prefix] = fakeResponse{out: out, err: err}
	return f
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")

	f.mu.Lock()
	f.calls = append(f.calls, line)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	best := ""
	for prefix := range f.responses {
		if strings.Contains(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, errors.New("fake: no response for " + line)
	}
	resp := f.responses[best]
	return []byte(resp.out), resp.err
}

func (f *fakeRunner) called(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// fakeStats is a HostStats with fixed values
type fakeStats struct {
	perCore    []float64
	cpuErr     error
	temps      []host.TemperatureStat
	partitions []disk.PartitionStat
	usage      map[string]*disk.UsageStat
	vm         *mem.VirtualMemoryStat
	vmErr      error
	swap       *mem.SwapMemoryStat
	top        []ProcessMemory
	ifaces     []psnet.InterfaceStat
	battery    *BatteryStatus
	block      bool
}

func (f *fakeStats) CPUPercent(ctx context.Context, perCPU bool) ([]float64, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.perCore, f.cpuErr
}

func (f *fakeStats) CPUCounts(ctx context.Context, logical bool) (int, error) {
	if logical {
		return len(f.perCore), nil
	}
	return len(f.perCore) / 2, nil
}

func (f *fakeStats) CPUInfo(ctx context.Context) ([]cpu.InfoStat, error) {
	return []cpu.InfoStat{{ModelName: "Fake CPU", Mhz: 3200}}, nil
}

func (f *fakeStats) Temperatures(ctx context.Context) ([]host.TemperatureStat, error) {
	return f.temps, nil
}

func (f *fakeStats) Partitions(ctx context.Context) ([]disk.PartitionStat, error) {
	return f.partitions, nil
}

func (f *fakeStats) DiskUsage(ctx context.Context, path string) (*disk.UsageStat, error) {
	if u, ok := f.usage[path]; ok {
		return u, nil
	}
	return nil, errors.New("permission denied")
}

func (f *fakeStats) DiskIOCounters(ctx context.Context) (map[string]disk.IOCountersStat, error) {
	return map[string]disk.IOCountersStat{"sda": {ReadBytes: 1 << 30, WriteBytes: 2 << 30}}, nil
}

func (f *fakeStats) VirtualMemory(ctx context.Context) (*mem.VirtualMemoryStat, error) {
	return f.vm, f.vmErr
}

func (f *fakeStats) SwapMemory(ctx context.Context) (*mem.SwapMemoryStat, error) {
	if f.swap == nil {
		return &mem.SwapMemoryStat{}, nil
	}
	return f.swap, nil
}

func (f *fakeStats) TopProcesses(ctx context.Context, n int) ([]ProcessMemory, error) {
	return f.top, nil
}

func (f *fakeStats) Interfaces(ctx context.Context) ([]psnet.InterfaceStat, error) {
	return f.ifaces, nil
}

func (f *fakeStats) Battery(ctx context.Context) (*BatteryStatus, error) {
	return f.battery, nil
}

// newTestToolkit builds a toolkit with default thresholds and the given fakes
func newTestToolkit(goos string, elevated bool, runner CommandRunner, stats HostStats) *Toolkit {
	return &Toolkit{
		Runner: runner,
		Stats:  stats,
		Env:    Environment{GOOS: goos, Elevated: elevated},
		Config: config.DefaultConfig().Diagnostics,
		Now:    func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

// capabilityByName returns the named builtin from tk
func capabilityByName(tk *Toolkit, name string) Capability {
	for _, c := range Builtins(tk) {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
