// ABOUTME: UTSC capture parameters and their validation against CMTS hardware limits.
// ABOUTME: Validate collects every violation so a subscriber sees the whole list at once.

package utsc

import (
	"fmt"
	"slices"
	"strings"
)

// TriggerMode is docsPnmCmtsUtscCfgTriggerMode.
type TriggerMode int

const (
	TriggerOther       TriggerMode = 1
	TriggerFreeRunning TriggerMode = 2
	TriggerMiniSlot    TriggerMode = 3
	TriggerSID         TriggerMode = 4
	TriggerIdleSID     TriggerMode = 5
	TriggerCMMAC       TriggerMode = 6
)

// OutputFormat is docsPnmCmtsUtscCfgOutputFormat.
type OutputFormat int

const (
	OutputTimeIQ       OutputFormat = 1
	OutputFFTPower     OutputFormat = 2
	OutputFFTComplex   OutputFormat = 3
	OutputFFTIQ        OutputFormat = 4
	OutputFFTAmplitude OutputFormat = 5
)

// Window is docsPnmCmtsUtscCfgWindow.
type Window int

const (
	WindowOther          Window = 1
	WindowRectangular    Window = 2
	WindowHann           Window = 3
	WindowBlackmanHarris Window = 4
	WindowHamming        Window = 5
)

// Hardware limits.
const (
	MinCenterFreqHz       = 5_000_000
	MaxCenterFreqHz       = 200_000_000
	narrowbandMaxCenterHz = 102_000_000
	widebandMaxCenterHz   = 204_000_000
	MaxRepeatPeriodMs     = 1000
	MaxFreerunDurationMs  = 600_000
	MinTriggerCount       = 1
	MaxTriggerCount       = 10
)

var (
	supportedSpansHz = []int64{40_000_000, 80_000_000, 160_000_000, 320_000_000}
	widebandSpansHz  = []int64{80_000_000, 160_000_000, 320_000_000}
	supportedBins    = []int{200, 400, 800, 1600, 3200}
)

// Params configures one UTSC capture on a CMTS upstream RF port.
type Params struct {
	CMTSIP            string       `json:"cmts_ip"`
	Community         string       `json:"community"`
	RFPortIfIndex     int          `json:"rf_port_ifindex"`
	MAC               string       `json:"cm_mac_address,omitempty"`
	LogicalChIfIndex  int          `json:"logical_ch_ifindex,omitempty"`
	TriggerMode       TriggerMode  `json:"trigger_mode"`
	CenterFreqHz      int64        `json:"center_freq_hz"`
	SpanHz            int64        `json:"span_hz"`
	NumBins           int          `json:"num_bins"`
	OutputFormat      OutputFormat `json:"output_format"`
	Window            Window       `json:"window"`
	Filename          string       `json:"filename"`
	RepeatPeriodMs    int          `json:"repeat_period_ms"`
	FreerunDurationMs int          `json:"freerun_duration_ms"`
	TriggerCount      int          `json:"trigger_count"`
}

// DefaultParams returns the capture defaults used when a subscriber leaves a field unset.
func DefaultParams() Params {
	return Params{
		Community:         "private",
		TriggerMode:       TriggerFreeRunning,
		CenterFreqHz:      50_000_000,
		SpanHz:            80_000_000,
		NumBins:           800,
		OutputFormat:      OutputFFTPower,
		Window:            WindowHann,
		Filename:          "utsc_capture",
		RepeatPeriodMs:    1000,
		FreerunDurationMs: 60_000,
		TriggerCount:      1,
	}
}

// AsMap renders p as agent command params.
func (p Params) AsMap() map[string]any {
	m := map[string]any{
		"cmts_ip":             p.CMTSIP,
		"community":           p.Community,
		"rf_port_ifindex":     p.RFPortIfIndex,
		"trigger_mode":        int(p.TriggerMode),
		"center_freq_hz":      p.CenterFreqHz,
		"span_hz":             p.SpanHz,
		"num_bins":            p.NumBins,
		"output_format":       int(p.OutputFormat),
		"window":              int(p.Window),
		"filename":            p.Filename,
		"repeat_period_ms":    p.RepeatPeriodMs,
		"freerun_duration_ms": p.FreerunDurationMs,
		"trigger_count":       p.TriggerCount,
	}
	if p.MAC != "" {
		m["cm_mac_address"] = p.MAC
	}
	if p.LogicalChIfIndex != 0 {
		m["logical_ch_ifindex"] = p.LogicalChIfIndex
	}
	return m
}

// ConfigurationError lists every parameter that violates a hardware limit.
type ConfigurationError struct {
	Violations []string
}

func (e *ConfigurationError) Error() string {
	return "invalid capture configuration: " + strings.Join(e.Violations, "; ")
}

// Validate checks p against hardware limits. Warnings describe accepted but
// ignored or unusual settings; err is a *ConfigurationError when anything is out of range.
func Validate(p Params) (warnings []string, err error) {
	var violations []string
	mhz := func(hz int64) float64 { return float64(hz) / 1e6 }

	if p.CMTSIP == "" {
		violations = append(violations, "cmts_ip is required")
	}
	if p.RFPortIfIndex <= 0 {
		violations = append(violations, "rf_port_ifindex is required")
	}

	if p.CenterFreqHz < MinCenterFreqHz {
		violations = append(violations, fmt.Sprintf("center frequency %.1f MHz is below minimum %.1f MHz", mhz(p.CenterFreqHz), mhz(MinCenterFreqHz)))
	} else if p.CenterFreqHz > MaxCenterFreqHz {
		violations = append(violations, fmt.Sprintf("center frequency %.1f MHz exceeds maximum %.1f MHz", mhz(p.CenterFreqHz), mhz(MaxCenterFreqHz)))
	}

	if !slices.Contains(supportedSpansHz, p.SpanHz) {
		violations = append(violations, fmt.Sprintf("span %.1f MHz not supported, use one of 40, 80, 160, 320 MHz", mhz(p.SpanHz)))
	} else {
		if start := p.CenterFreqHz - p.SpanHz/2; start < 0 {
			violations = append(violations, fmt.Sprintf("span extends below 0 Hz (start %.1f MHz)", mhz(start)))
		}
		maxCenter := int64(narrowbandMaxCenterHz)
		if slices.Contains(widebandSpansHz, p.SpanHz) {
			maxCenter = widebandMaxCenterHz
		}
		if p.CenterFreqHz > maxCenter {
			violations = append(violations, fmt.Sprintf("center frequency %.1f MHz exceeds %.1f MHz for a %.1f MHz span", mhz(p.CenterFreqHz), mhz(maxCenter), mhz(p.SpanHz)))
		}
	}

	if !slices.Contains(supportedBins, p.NumBins) {
		violations = append(violations, fmt.Sprintf("num_bins %d not supported, use one of %v", p.NumBins, supportedBins))
	}

	if p.RepeatPeriodMs < 0 || p.RepeatPeriodMs > MaxRepeatPeriodMs {
		violations = append(violations, fmt.Sprintf("repeat period %dms outside 0-%dms", p.RepeatPeriodMs, MaxRepeatPeriodMs))
	}
	if p.FreerunDurationMs < 0 || p.FreerunDurationMs > MaxFreerunDurationMs {
		violations = append(violations, fmt.Sprintf("free-run duration %dms outside 0-%dms", p.FreerunDurationMs, MaxFreerunDurationMs))
	}

	if p.TriggerMode == TriggerFreeRunning {
		warnings = append(warnings, "trigger count is ignored in free-running mode")
	} else if p.TriggerCount < MinTriggerCount || p.TriggerCount > MaxTriggerCount {
		violations = append(violations, fmt.Sprintf("trigger count %d outside %d-%d", p.TriggerCount, MinTriggerCount, MaxTriggerCount))
	}
	if p.TriggerMode == TriggerCMMAC && p.MAC == "" {
		violations = append(violations, "cm_mac_address is required for CM MAC trigger mode")
	}

	if p.SpanHz > 0 && p.NumBins > 0 {
		khz := float64(p.SpanHz) / float64(p.NumBins) / 1000
		switch {
		case khz > 100:
			warnings = append(warnings, fmt.Sprintf("resolution %.1f kHz/bin is coarse", khz))
		case khz < 10:
			warnings = append(warnings, fmt.Sprintf("resolution %.1f kHz/bin is very fine", khz))
		}
	}

	if len(violations) > 0 {
		return warnings, &ConfigurationError{Violations: violations}
	}
	return warnings, nil
}
