package diagnostics

import (
	"context"
	stderrors "errors"
	"os/exec"
	"strings"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

const (
	sfcManualCommand  = "sfc /scannow"
	dismManualCommand = "DISM /Online /Cleanup-Image /CheckHealth"
)

func (tk *Toolkit) scanSystemFiles(ctx context.Context, req Request) (Finding, error) {
	if !tk.Env.IsWindows() {
		return Finding{}, unsupported(tk.Env.GOOS)
	}
	if !tk.Env.Elevated {
		return Finding{
			Recommendation: "Run as Administrator: " + sfcManualCommand,
			Data:           map[string]interface{}{"manual_command": sfcManualCommand},
		}, notElevated()
	}

	// /verifyonly never repairs, so it is safe to run unattended
	out, err := tk.Runner.Run(ctx, "sfc", "/verifyonly")
	if err = commandFailure(ctx, out, err); err != nil {
		return Finding{Recommendation: "Run SFC manually as Administrator: " + sfcManualCommand}, err
	}

	output := string(out)
	data := map[string]interface{}{"scan_output": output}
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "did not find any integrity violations"):
		return Finding{Analysis: "No system file corruption detected", Severity: protocol.SeverityLow, Data: data}, nil
	case containsAny(lower, "found corrupt files", "integrity violations"):
		return Finding{
			Analysis:       "System file corruption detected",
			Severity:       protocol.SeverityHigh,
			Recommendation: "Run 'sfc /scannow' as Administrator to repair files",
			Data:           data,
		}, nil
	case containsAny(lower, "could not perform", "windows resource protection"):
		return Finding{Analysis: "SFC scan encountered issues", Severity: protocol.SeverityMedium, Data: data}, nil
	default:
		return Finding{Analysis: "SFC scan completed - review output for details", Severity: protocol.SeverityMedium, Data: data}, nil
	}
}

func (tk *Toolkit) checkDISMHealth(ctx context.Context, req Request) (Finding, error) {
	if !tk.Env.IsWindows() {
		return Finding{}, unsupported(tk.Env.GOOS)
	}
	if !tk.Env.Elevated {
		return Finding{
			Recommendation: "Run as Administrator: " + dismManualCommand,
			Data:           map[string]interface{}{"manual_command": dismManualCommand},
		}, notElevated()
	}

	out, err := tk.Runner.Run(ctx, "DISM", "/Online", "/Cleanup-Image", "/CheckHealth")
	if err = commandFailure(ctx, out, err); err != nil {
		return Finding{Recommendation: "Run manually as Administrator: " + dismManualCommand}, err
	}

	output := string(out)
	data := map[string]interface{}{"check_output": output}
	lower := strings.ToLower(output)

	switch {
	case strings.Contains(lower, "no component store corruption detected"):
		return Finding{Analysis: "Windows image health OK", Severity: protocol.SeverityLow, Data: data}, nil
	case strings.Contains(lower, "corruption"):
		return Finding{
			Analysis:       "Windows image corruption detected",
			Severity:       protocol.SeverityHigh,
			Recommendation: "Run 'DISM /Online /Cleanup-Image /RestoreHealth' as Administrator",
			Data:           data,
		}, nil
	default:
		return Finding{Analysis: "DISM check completed - review output", Severity: protocol.SeverityLow, Data: data}, nil
	}
}

// commandFailure decides whether a command error is fatal for the probe.
// A non-zero exit with output is not: sfc and DISM report findings that way.
func commandFailure(ctx context.Context, out []byte, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) && len(strings.TrimSpace(string(out))) > 0 {
		return nil
	}
	// Permission and timeout errors keep their own type for the error metrics
	switch classified := diagerrors.ClassifyError(err); classified.Type {
	case diagerrors.ErrorTypePermission, diagerrors.ErrorTypeTimeout:
		return classified
	default:
		return diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed, "command failed", err)
	}
}
