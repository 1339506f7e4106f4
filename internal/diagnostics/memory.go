package diagnostics

import (
	"context"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const topProcessCount = 10

func (tk *Toolkit) checkMemoryUsage(ctx context.Context, req Request) (Finding, error) {
	vm, err := tk.Stats.VirtualMemory(ctx)
	if err != nil {
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"failed to read memory statistics", err)
	}

	data := map[string]interface{}{
		"total_gb":     toGB(vm.Total),
		"available_gb": toGB(vm.Available),
		"used_gb":      toGB(vm.Used),
		"percent_used": round2(vm.UsedPercent),
	}

	if swap, err := tk.Stats.SwapMemory(ctx); err == nil && swap != nil {
		data["swap_total_gb"] = toGB(swap.Total)
		data["swap_used_gb"] = toGB(swap.Used)
		data["swap_percent"] = round2(swap.UsedPercent)
	}

	if top, err := tk.Stats.TopProcesses(ctx, topProcessCount); err == nil {
		data["top_processes"] = top
	}

	th := tk.thresholds()
	switch ladder(vm.UsedPercent, th.MemoryHigh, th.MemoryMedium) {
	case protocol.SeverityHigh:
		return Finding{
			Analysis:       "CRITICAL: Very high memory usage - System may be slow",
			Severity:       protocol.SeverityHigh,
			Recommendation: "Close memory-heavy applications or add more RAM",
			Data:           data,
		}, nil
	case protocol.SeverityMedium:
		return Finding{
			Analysis:       "High memory usage detected",
			Severity:       protocol.SeverityMedium,
			Recommendation: "Review the top processes and close what is not needed",
			Data:           data,
		}, nil
	default:
		return Finding{
			Analysis: "Memory usage normal",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}
