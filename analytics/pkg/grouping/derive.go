package grouping

import (
	"fmt"
	"math"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Field is a derived field computed per record.
type Field struct {
	Name string
	Expr Expr

	// Round is the number of decimals kept; zero or negative keeps full
	// precision.
	Round int
}

// ParseField parses formula and returns the field named name.
func ParseField(name, formula string, round int) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("derived field name is required")
	}
	e, err := ParseExpr(formula)
	if err != nil {
		return Field{}, fmt.Errorf("derived field %s: %w", name, err)
	}
	return Field{Name: name, Expr: e, Round: round}, nil
}

// Derive returns copies of records with each field added in order, so later
// fields may reference earlier ones. A field that cannot be evaluated is
// present with a nil value; no record is dropped.
func Derive(records []timeseries.Record, fields ...Field) []timeseries.Record {
	if len(fields) == 0 {
		return records
	}
	out := make([]timeseries.Record, len(records))
	for i, rec := range records {
		for _, f := range fields {
			var v *float64
			if x, ok := f.Expr.Eval(rec.Values); ok {
				v = timeseries.Float(round(x, f.Round))
			}
			rec = rec.With(f.Name, v)
		}
		out[i] = rec
	}
	return out
}

// Efficiency is power / cooling_rate rounded to four decimals.
var Efficiency = Field{
	Name:  "efficiency",
	Expr:  Binary{Op: '/', L: Ref{Name: "power"}, R: Ref{Name: "cooling_rate"}},
	Round: 4,
}

func round(v float64, places int) float64 {
	if places <= 0 {
		return v
	}
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
