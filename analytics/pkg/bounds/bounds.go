// Package bounds computes valid value ranges for HVAC metrics and drops records
// carrying sensor outliers.
package bounds

import (
	"fmt"
	"math"
	"slices"
)

const DefaultIQRMultiplier = 1.5

// minIQRSamples is the smallest column for which quartiles are meaningful.
const minIQRSamples = 4

type Method string

const (
	MethodIQR        Method = "iqr"
	MethodHVACBounds Method = "hvac_bounds"
	MethodBoth       Method = "both"
)

func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "":
		return MethodBoth, nil
	case MethodIQR, MethodHVACBounds, MethodBoth:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown outlier method %q", s)
}

func (m Method) usesIQR() bool    { return m == MethodIQR || m == MethodBoth }
func (m Method) usesDomain() bool { return m == MethodHVACBounds || m == MethodBoth }

// Bound is an inclusive [Lower, Upper] range. Lower <= Upper always holds for
// bounds produced by this package.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

func (b Bound) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// domainBounds holds the physically plausible range of each metric, in the
// units the plant reports (kW/RT, kW, RT, °F, GPM, %).
var domainBounds = map[string]Bound{
	"efficiency":                      {0.3, 2.0},
	"power":                           {0, 10000},
	"cooling_rate":                    {0, 10000},
	"heat_reject":                     {0, 15000},
	"supply_water_temperature":        {30, 100},
	"return_water_temperature":        {30, 100},
	"evap_leaving_water_temperature":  {30, 70},
	"evap_entering_water_temperature": {35, 80},
	"cond_leaving_water_temperature":  {70, 120},
	"cond_entering_water_temperature": {60, 110},
	"drybulb_temperature":             {0, 130},
	"wetbulb_temperature":             {0, 100},
	"flow_rate":                       {0, 50000},
	"percentage_rla":                  {0, 150},
	"humidity":                        {0, 100},
}

// Domain returns the fixed plausible range for metric. ok is false when the
// metric carries no domain constraint.
func Domain(metric string) (Bound, bool) {
	b, ok := domainBounds[metric]
	return b, ok
}

// IQR returns [Q1 - k*IQR, Q3 + k*IQR] using rank quartiles (s[n/4], s[3n/4])
// of the sorted values. ok is false for fewer than four samples.
func IQR(values []float64, k float64) (Bound, bool) {
	n := len(values)
	if n < minIQRSamples {
		return Bound{}, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	q1 := sorted[n/4]
	q3 := sorted[(3*n)/4]
	iqr := q3 - q1
	return Bound{Lower: q1 - k*iqr, Upper: q3 + k*iqr}, true
}

// Combine intersects the statistical and domain ranges of a metric, keeping the
// tighter side of each. If the two ranges are disjoint the domain range is used.
func Combine(metric string, values []float64, method Method, k float64) (Bound, bool) {
	lower, upper := math.Inf(-1), math.Inf(1)
	var found bool

	if method.usesIQR() {
		if b, ok := IQR(values, k); ok {
			lower = max(lower, b.Lower)
			upper = min(upper, b.Upper)
			found = true
		}
	}

	domain, hasDomain := Domain(metric)
	if method.usesDomain() && hasDomain {
		lower = max(lower, domain.Lower)
		upper = min(upper, domain.Upper)
		found = true
	}

	if !found {
		return Bound{}, false
	}
	if lower > upper {
		if hasDomain {
			return domain, true
		}
		return Bound{Lower: upper, Upper: upper}, true
	}
	return Bound{Lower: lower, Upper: upper}, true
}
