package diagnostics

import (
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

var (
	// Windows: "Average = 23ms"; Unix: "rtt min/avg/max/mdev = 1.1/2.2/3.3/0.4 ms"
	windowsAvgPattern = regexp.MustCompile(`Average = (\d+)ms`)
	unixAvgPattern    = regexp.MustCompile(`= [\d.]+/([\d.]+)/`)
	lossPattern       = regexp.MustCompile(`(\d+(?:\.\d+)?)% (?:packet )?loss`)
)

// interfaceSummary is the per-interface record reported by the network probe
type interfaceSummary struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	Flags     []string `json:"flags,omitempty"`
}

// pingResult is what could be parsed from ping output
type pingResult struct {
	Reachable   bool
	AvgLatency  float64
	HasLatency  bool
	PacketLoss  float64
	HasLossInfo bool
}

func (tk *Toolkit) checkNetworkConnectivity(ctx context.Context, req Request) (Finding, error) {
	target := tk.Config.NetworkTarget
	if target == "" {
		target = "8.8.8.8"
	}
	count := tk.Config.PingCount
	if count < 1 {
		count = 4
	}

	countFlag := "-c"
	if tk.Env.IsWindows() {
		countFlag = "-n"
	}

	out, err := tk.Runner.Run(ctx, "ping", countFlag, strconv.Itoa(count), target)
	if err != nil {
		if ctx.Err() != nil {
			return Finding{}, ctx.Err()
		}
		if stderrors.Is(err, exec.ErrNotFound) {
			return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
				"ping command not available", err)
		}
	}

	ping := parsePing(string(out), tk.Env.IsWindows(), err == nil)
	data := map[string]interface{}{
		"target":    target,
		"reachable": ping.Reachable,
	}
	if ping.HasLatency {
		data["avg_latency_ms"] = ping.AvgLatency
	}
	if ping.HasLossInfo {
		data["packet_loss_percent"] = ping.PacketLoss
	}

	if ifaces, ierr := tk.Stats.Interfaces(ctx); ierr == nil {
		summaries := make([]interfaceSummary, 0, len(ifaces))
		for _, iface := range ifaces {
			s := interfaceSummary{Name: iface.Name, Flags: iface.Flags}
			for _, addr := range iface.Addrs {
				s.Addresses = append(s.Addresses, addr.Addr)
			}
			summaries = append(summaries, s)
		}
		data["interfaces"] = summaries
	}

	switch {
	case !ping.Reachable:
		return Finding{
			Analysis:       fmt.Sprintf("Network unreachable: no reply from %s", target),
			Severity:       protocol.SeverityHigh,
			Recommendation: "Check the cable or WiFi connection, restart the router and verify DNS settings",
			Data:           data,
		}, nil
	case ping.PacketLoss > 0:
		return Finding{
			Analysis:       fmt.Sprintf("Packet loss detected (%.0f%%) to %s", ping.PacketLoss, target),
			Severity:       protocol.SeverityMedium,
			Recommendation: "Check signal strength or cabling; intermittent loss points at the local link",
			Data:           data,
		}, nil
	case ping.HasLatency:
		return Finding{
			Analysis: fmt.Sprintf("Network connectivity OK (avg %.1f ms)", ping.AvgLatency),
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	default:
		return Finding{
			Analysis: "Network connectivity OK",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}

// parsePing extracts latency and loss from ping output. exitOK is false when
// ping exited non-zero, which both Windows and Unix ping do on total loss.
func parsePing(output string, windows, exitOK bool) pingResult {
	var r pingResult

	pattern := unixAvgPattern
	if windows {
		pattern = windowsAvgPattern
	}
	if m := pattern.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			r.AvgLatency = v
			r.HasLatency = true
		}
	}

	if m := lossPattern.FindStringSubmatch(output); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			r.PacketLoss = v
			r.HasLossInfo = true
		}
	}

	switch {
	case r.HasLossInfo:
		r.Reachable = r.PacketLoss < 100
	case r.HasLatency:
		r.Reachable = true
	default:
		r.Reachable = exitOK
	}
	return r
}
