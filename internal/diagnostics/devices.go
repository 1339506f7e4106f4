package diagnostics

import (
	"context"
	"fmt"
	"strings"
	"time"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// signedDriver is one Win32_PnPSignedDriver instance. IsSigned is null for
// some virtual devices.
type signedDriver struct {
	DeviceName    string `json:"DeviceName"`
	DeviceClass   string `json:"DeviceClass"`
	DriverVersion string `json:"DriverVersion"`
	DriverDate    string `json:"DriverDate"`
	Manufacturer  string `json:"Manufacturer"`
	IsSigned      *bool  `json:"IsSigned"`
}

// videoController is one Win32_VideoController instance
type videoController struct {
	Name           string `json:"Name"`
	DriverVersion  string `json:"DriverVersion"`
	Status         string `json:"Status"`
	AdapterRAM     uint64 `json:"AdapterRAM"`
	VideoProcessor string `json:"VideoProcessor"`
}

const driverScript = `Get-CimInstance -ClassName Win32_PnPSignedDriver | ` +
	`Where-Object { $_.DeviceClass -in @('DISPLAY','NET','MEDIA','DISKDRIVE') } | ` +
	`Select-Object DeviceName, DeviceClass, DriverVersion, Manufacturer, IsSigned, ` +
	`@{n='DriverDate';e={ if ($_.DriverDate) { $_.DriverDate.ToString('yyyy-MM-dd') } }}`

const videoControllerScript = `Get-CimInstance -ClassName Win32_VideoController | ` +
	`Select-Object Name, DriverVersion, Status, AdapterRAM, VideoProcessor`

// driverIssue names a driver and why it was flagged
type driverIssue struct {
	DeviceName    string `json:"device_name"`
	DeviceClass   string `json:"device_class"`
	DriverVersion string `json:"driver_version"`
	DriverDate    string `json:"driver_date,omitempty"`
	AgeDays       int    `json:"age_days,omitempty"`
}

func (tk *Toolkit) verifyDriverIntegrity(ctx context.Context, req Request) (Finding, error) {
	if !tk.Env.IsWindows() {
		return Finding{}, unsupported(tk.Env.GOOS)
	}

	var drivers []signedDriver
	if err := powershellJSON(ctx, tk.Runner, driverScript, &drivers); err != nil {
		if ctx.Err() != nil {
			return Finding{}, ctx.Err()
		}
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"failed to query drivers", err)
	}

	maxAge := time.Duration(tk.thresholds().DriverMaxAgeDays) * 24 * time.Hour
	now := tk.now()

	var unsigned, outdated []driverIssue
	for _, d := range drivers {
		issue := driverIssue{
			DeviceName:    d.DeviceName,
			DeviceClass:   strings.ToUpper(d.DeviceClass),
			DriverVersion: d.DriverVersion,
			DriverDate:    d.DriverDate,
		}
		if d.IsSigned != nil && !*d.IsSigned {
			unsigned = append(unsigned, issue)
		}
		if date, err := time.Parse("2006-01-02", d.DriverDate); err == nil {
			age := now.Sub(date)
			if age > maxAge {
				issue.AgeDays = int(age.Hours() / 24)
				outdated = append(outdated, issue)
			}
		}
	}

	data := map[string]interface{}{
		"drivers_checked":  len(drivers),
		"unsigned_drivers": unsigned,
		"outdated_drivers": outdated,
	}

	switch {
	case len(unsigned) > 0:
		return Finding{
			Analysis:       fmt.Sprintf("%d unsigned driver(s) detected", len(unsigned)),
			Severity:       protocol.SeverityHigh,
			Recommendation: "Reinstall unsigned drivers from the hardware manufacturer",
			Data:           data,
		}, nil
	case len(outdated) > 0:
		return Finding{
			Analysis:       fmt.Sprintf("%d driver(s) older than %d days", len(outdated), tk.thresholds().DriverMaxAgeDays),
			Severity:       protocol.SeverityMedium,
			Recommendation: "Update outdated drivers through Windows Update or the manufacturer's site",
			Data:           data,
		}, nil
	default:
		return Finding{
			Analysis: fmt.Sprintf("All %d checked drivers are signed and current", len(drivers)),
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}

func (tk *Toolkit) checkGPUStatus(ctx context.Context, req Request) (Finding, error) {
	if !tk.Env.IsWindows() {
		return Finding{}, unsupported(tk.Env.GOOS)
	}

	var controllers []videoController
	if err := powershellJSON(ctx, tk.Runner, videoControllerScript, &controllers); err != nil {
		if ctx.Err() != nil {
			return Finding{}, ctx.Err()
		}
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"failed to query video controllers", err)
	}

	adapters := make([]map[string]interface{}, 0, len(controllers))
	var degraded []string
	for _, c := range controllers {
		adapters = append(adapters, map[string]interface{}{
			"name":            c.Name,
			"driver_version":  c.DriverVersion,
			"status":          c.Status,
			"adapter_ram_mb":  c.AdapterRAM / (1024 * 1024),
			"video_processor": c.VideoProcessor,
		})
		if c.Status != "" && !strings.EqualFold(c.Status, "OK") {
			degraded = append(degraded, fmt.Sprintf("%s (%s)", c.Name, c.Status))
		}
	}
	data := map[string]interface{}{"adapters": adapters}

	switch {
	case len(degraded) > 0:
		return Finding{
			Analysis:       "GPU reports a degraded status: " + strings.Join(degraded, ", "),
			Severity:       protocol.SeverityMedium,
			Recommendation: "Update or reinstall the graphics driver",
			Data:           data,
		}, nil
	case len(controllers) == 0:
		return Finding{
			Analysis: "No video controllers reported",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	default:
		return Finding{
			Analysis: fmt.Sprintf("GPU status OK (%d adapter(s))", len(controllers)),
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}
