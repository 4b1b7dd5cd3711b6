// Package display renders signal state as short human-readable text for
// character LCDs, OLED panels and the serial console.
package display

import (
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/sweeney/checkup-sensor/internal/logic"
)

// Markers appended to a rendered value.
const (
	MarkTrusted  = "*"
	MarkSettling = "?"
	NoValue      = "--"
)

// Spec describes how one signal is shown.
type Spec struct {
	Label    string // short screen label, e.g. "BPM"
	Unit     string // e.g. "cm"; may be empty
	Decimals int    // digits after the decimal point
}

// Panel kinds, matching the instruments' original screens.
const (
	PanelHeight   = "height"
	PanelOximeter = "oximeter"
	PanelGeneric  = "generic"
)

// FormatValue renders v with the given decimals at float32 precision,
// which is what the instrument firmware reports.
func FormatValue(v float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	scale := math32.Pow(10, float32(decimals))
	r := math32.Round(float32(v)*scale) / scale
	return strconv.FormatFloat(float64(r), 'f', decimals, 32)
}

// Format renders one signal: "72*" when trusted, "72?" when settling,
// "--" when there is no valid reading.
func Format(view logic.ChannelView, spec Spec) string {
	switch {
	case view.HasStable:
		return FormatValue(view.StableValue, spec.Decimals) + MarkTrusted
	case view.HasLast:
		return FormatValue(view.LastReading, spec.Decimals) + MarkSettling
	default:
		return NoValue
	}
}

// Panel returns the screen lines for the given panel kind. specs is keyed
// by signal name; missing entries fall back to the signal name as label.
func Panel(kind string, views []logic.ChannelView, specs map[string]Spec) []string {
	switch kind {
	case PanelHeight:
		if len(views) > 0 {
			return heightPanel(views[0], specFor(views[0].Name, specs))
		}
	case PanelOximeter:
		return oximeterPanel(views, specs)
	}
	return genericPanel(views, specs)
}

// heightPanel mirrors the 16x2 LCD: title, then raw distance with an OK/... marker.
func heightPanel(v logic.ChannelView, spec Spec) []string {
	title := spec.Label + ":"
	if !v.HasLast || v.LastReading == 0 {
		return []string{title, "No object"}
	}
	line := FormatValue(v.LastReading, spec.Decimals)
	if spec.Unit != "" {
		line += " " + spec.Unit
	}
	if v.Phase == logic.PhaseStable {
		line += " OK"
	} else {
		line += " ..."
	}
	return []string{title, line}
}

// oximeterPanel mirrors the OLED: one line of values, one status line, or a
// prompt when no channel has a reading.
func oximeterPanel(views []logic.ChannelView, specs map[string]Spec) []string {
	anySignal := false
	allStable := len(views) > 0
	parts := make([]string, 0, len(views))
	for _, v := range views {
		spec := specFor(v.Name, specs)
		parts = append(parts, spec.Label+":"+Format(v, spec))
		if v.HasLast {
			anySignal = true
		}
		if v.Phase != logic.PhaseStable {
			allStable = false
		}
	}
	if !anySignal {
		return []string{"Place finger"}
	}
	status := "Stabilizing"
	if allStable {
		status = "STABLE"
	}
	return []string{strings.Join(parts, " "), status}
}

func genericPanel(views []logic.ChannelView, specs map[string]Spec) []string {
	lines := make([]string, 0, len(views))
	for _, v := range views {
		spec := specFor(v.Name, specs)
		line := spec.Label + ": " + Format(v, spec)
		if spec.Unit != "" && (v.HasStable || v.HasLast) {
			line += " " + spec.Unit
		}
		lines = append(lines, line)
	}
	return lines
}

// LogLine builds the serial-console status line, e.g.
// "height=123(OK) bpm=72.0(...) spo2=--".
func LogLine(views []logic.ChannelView, specs map[string]Spec) string {
	parts := make([]string, 0, len(views))
	for _, v := range views {
		spec := specFor(v.Name, specs)
		var s string
		switch {
		case !v.HasLast:
			s = NoValue
		case v.Phase == logic.PhaseStable:
			s = FormatValue(v.LastReading, spec.Decimals) + "(OK)"
		default:
			s = FormatValue(v.LastReading, spec.Decimals) + "(...)"
		}
		parts = append(parts, v.Name+"="+s)
	}
	return strings.Join(parts, " ")
}

func specFor(name string, specs map[string]Spec) Spec {
	spec, ok := specs[name]
	if !ok {
		spec = Spec{}
	}
	if spec.Label == "" {
		spec.Label = name
	}
	return spec
}
