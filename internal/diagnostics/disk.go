package diagnostics

import (
	"context"
	"fmt"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// partitionUsage is the per-volume record reported by inspect_disk_usage
type partitionUsage struct {
	Device      string  `json:"device"`
	Mountpoint  string  `json:"mountpoint"`
	Fstype      string  `json:"fstype"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	PercentUsed float64 `json:"percent_used"`
}

func (tk *Toolkit) inspectDiskUsage(ctx context.Context, req Request) (Finding, error) {
	parts, err := tk.Stats.Partitions(ctx)
	if err != nil {
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"failed to enumerate partitions", err)
	}

	th := tk.thresholds()
	var usages []partitionUsage
	critical, warning := 0, 0
	for _, p := range parts {
		usage, err := tk.Stats.DiskUsage(ctx, p.Mountpoint)
		if err != nil || usage == nil {
			// Unreadable volumes (empty card readers, permission denied) are skipped
			continue
		}
		pu := partitionUsage{
			Device:      p.Device,
			Mountpoint:  p.Mountpoint,
			Fstype:      p.Fstype,
			TotalGB:     toGB(usage.Total),
			UsedGB:      toGB(usage.Used),
			FreeGB:      toGB(usage.Free),
			PercentUsed: round2(usage.UsedPercent),
		}
		usages = append(usages, pu)

		switch ladder(pu.PercentUsed, th.DiskHigh, th.DiskMedium) {
		case protocol.SeverityHigh:
			critical++
		case protocol.SeverityMedium:
			warning++
		}
	}

	if len(usages) == 0 {
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"no readable partitions found", nil)
	}

	data := map[string]interface{}{
		"partitions": usages,
	}
	if counters, err := tk.Stats.DiskIOCounters(ctx); err == nil && len(counters) > 0 {
		var readBytes, writeBytes, readCount, writeCount uint64
		for _, c := range counters {
			readBytes += c.ReadBytes
			writeBytes += c.WriteBytes
			readCount += c.ReadCount
			writeCount += c.WriteCount
		}
		data["disk_io"] = map[string]interface{}{
			"read_gb":     toGB(readBytes),
			"write_gb":    toGB(writeBytes),
			"read_count":  readCount,
			"write_count": writeCount,
		}
	}

	switch {
	case critical > 0:
		return Finding{
			Analysis:       fmt.Sprintf("CRITICAL: %d partition(s) nearly full", critical),
			Severity:       protocol.SeverityHigh,
			Recommendation: "Free up disk space: remove temporary files, uninstall unused programs or move data to another drive",
			Data:           data,
		}, nil
	case warning > 0:
		return Finding{
			Analysis:       "Warning: Low disk space detected",
			Severity:       protocol.SeverityMedium,
			Recommendation: "Run Disk Cleanup and review large folders",
			Data:           data,
		}, nil
	default:
		return Finding{
			Analysis: "Disk space healthy",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}
