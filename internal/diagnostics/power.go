package diagnostics

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/bebsworthy/diagmcp/internal/protocol"
)

var (
	schemeGUIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	schemeNamePattern = regexp.MustCompile(`\(([^)]+)\)`)
)

// win32Battery is one Win32_Battery instance. BatteryStatus 1 means discharging.
type win32Battery struct {
	EstimatedChargeRemaining float64 `json:"EstimatedChargeRemaining"`
	BatteryStatus            int     `json:"BatteryStatus"`
}

const batteryScript = `Get-CimInstance -ClassName Win32_Battery | Select-Object EstimatedChargeRemaining, BatteryStatus`

func (tk *Toolkit) checkPowerSettings(ctx context.Context, req Request) (Finding, error) {
	data := map[string]interface{}{}

	if tk.Env.IsWindows() {
		tk.readPowerPlans(ctx, data)
	}

	battery, err := tk.readBattery(ctx)
	if err != nil {
		data["battery_note"] = fmt.Sprintf("Could not read battery status: %v", err)
	}

	if battery == nil {
		data["battery_present"] = false
		return Finding{
			Analysis: "Desktop system - No battery detected",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}

	data["battery_present"] = true
	data["battery"] = battery

	switch {
	case !battery.Plugged && battery.Percent < tk.thresholds().BatteryLow:
		return Finding{
			Analysis:       "Low battery - Performance may be throttled",
			Severity:       protocol.SeverityMedium,
			Recommendation: "Connect the charger; Windows limits performance on low battery",
			Data:           data,
		}, nil
	case battery.Plugged:
		return Finding{
			Analysis: "AC power connected",
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	default:
		return Finding{
			Analysis: fmt.Sprintf("Running on battery (%.0f%%)", battery.Percent),
			Severity: protocol.SeverityLow,
			Data:     data,
		}, nil
	}
}

// readPowerPlans records the active plan and the plan list. Both are best effort.
func (tk *Toolkit) readPowerPlans(ctx context.Context, data map[string]interface{}) {
	if out, err := tk.Runner.Run(ctx, "powercfg", "/getactivescheme"); err == nil {
		text := string(out)
		if guid := schemeGUIDPattern.FindString(text); guid != "" {
			data["active_scheme_guid"] = guid
		}
		if m := schemeNamePattern.FindStringSubmatch(text); m != nil {
			data["active_scheme_name"] = m[1]
		}
	} else {
		data["power_plan_note"] = fmt.Sprintf("Could not read active power plan: %v", err)
	}

	if out, err := tk.Runner.Run(ctx, "powercfg", "/list"); err == nil {
		var plans []string
		for _, line := range strings.Split(string(out), "\n") {
			if schemeGUIDPattern.MatchString(line) {
				plans = append(plans, strings.TrimSpace(line))
			}
		}
		data["available_schemes"] = plans
	}
}

func (tk *Toolkit) readBattery(ctx context.Context) (*BatteryStatus, error) {
	if !tk.Env.IsWindows() {
		return tk.Stats.Battery(ctx)
	}

	var batteries []win32Battery
	if err := powershellJSON(ctx, tk.Runner, batteryScript, &batteries); err != nil {
		return nil, err
	}
	if len(batteries) == 0 {
		return nil, nil
	}
	return &BatteryStatus{
		Percent: batteries[0].EstimatedChargeRemaining,
		Plugged: batteries[0].BatteryStatus != 1,
	}, nil
}
