package diagnostics

import (
	"context"
	"fmt"

	diagerrors "github.com/bebsworthy/diagmcp/internal/errors"
	"github.com/bebsworthy/diagmcp/internal/protocol"
)

// thermalZone is one MSAcpi_ThermalZoneTemperature instance
type thermalZone struct {
	InstanceName       string  `json:"InstanceName"`
	CurrentTemperature float64 `json:"CurrentTemperature"`
}

const thermalZoneScript = `Get-CimInstance -Namespace root/wmi -ClassName MSAcpi_ThermalZoneTemperature | Select-Object InstanceName, CurrentTemperature`

func (tk *Toolkit) analyzeCPUThermal(ctx context.Context, req Request) (Finding, error) {
	perCore, err := tk.Stats.CPUPercent(ctx, true)
	if err != nil {
		return Finding{}, diagerrors.CapabilityError(protocol.ErrorCodeCapabilityFailed,
			"failed to read CPU utilisation", err)
	}

	data := map[string]interface{}{
		"cpu_usage_per_core": perCore,
		"cpu_usage_average":  round2(average(perCore)),
	}
	if n, err := tk.Stats.CPUCounts(ctx, true); err == nil {
		data["cpu_count_logical"] = n
	}
	if n, err := tk.Stats.CPUCounts(ctx, false); err == nil {
		data["cpu_count_physical"] = n
	}
	if infos, err := tk.Stats.CPUInfo(ctx); err == nil && len(infos) > 0 {
		data["cpu_frequency_mhz"] = infos[0].Mhz
		data["cpu_model"] = infos[0].ModelName
	}

	temps := tk.readTemperatures(ctx)
	if len(temps) == 0 {
		data["temperature_note"] = "Temperature sensors not available on this system"
		return Finding{
			Analysis: fmt.Sprintf("CPU usage %.1f%% average, temperature data unavailable", average(perCore)),
			Data:     data,
		}, nil
	}

	data["temperatures_celsius"] = temps
	maxTemp := 0.0
	for _, t := range temps {
		if t > maxTemp {
			maxTemp = t
		}
	}
	data["max_temperature_celsius"] = maxTemp

	th := tk.thresholds()
	finding := Finding{Severity: ladder(maxTemp, th.ThermalHigh, th.ThermalMedium), Data: data}
	switch finding.Severity {
	case protocol.SeverityHigh:
		finding.Analysis = "HIGH TEMPERATURE DETECTED - CPU overheating risk"
		finding.Recommendation = "Check cooling fans, clean dust from vents and verify thermal paste"
	case protocol.SeverityMedium:
		finding.Analysis = "Elevated temperature - Monitor for thermal throttling"
		finding.Recommendation = "Improve airflow and monitor temperature under load"
	default:
		finding.Analysis = "CPU temperature normal"
	}
	return finding, nil
}

// readTemperatures returns sensor readings in Celsius. Failures yield no readings.
func (tk *Toolkit) readTemperatures(ctx context.Context) []float64 {
	var temps []float64

	if tk.Env.IsWindows() {
		var zones []thermalZone
		if err := powershellJSON(ctx, tk.Runner, thermalZoneScript, &zones); err != nil {
			return nil
		}
		for _, z := range zones {
			// Reported in tenths of a Kelvin
			if z.CurrentTemperature > 0 {
				temps = append(temps, round2(z.CurrentTemperature/10-273.15))
			}
		}
		return temps
	}

	sensors, err := tk.Stats.Temperatures(ctx)
	if err != nil && len(sensors) == 0 {
		return nil
	}
	for _, s := range sensors {
		if s.Temperature > 0 {
			temps = append(temps, round2(s.Temperature))
		}
	}
	return temps
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
