package grouping

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

// Label policies accepted by ParseLabeler.
const (
	LabelByCount                 = "chiller_count"
	LabelByCombination           = "chiller_combination"
	LabelByCombinationFixedCount = "chiller_combination_fixed_count"
)

// Labeler names the group of a record from the sorted set of devices running
// at its instant. A false return excludes the record.
type Labeler struct {
	Policy string

	label   func(running []string) (string, bool)
	numeric bool
}

func (l Labeler) Label(running []string) (string, bool) {
	return l.label(running)
}

// LabelCount labels by the number of running devices: "1 Chiller",
// "3 Chillers". Instants with nothing running are excluded.
func LabelCount() Labeler {
	return Labeler{
		Policy:  LabelByCount,
		numeric: true,
		label: func(running []string) (string, bool) {
			switch n := len(running); n {
			case 0:
				return "", false
			case 1:
				return "1 Chiller", true
			default:
				return fmt.Sprintf("%d Chillers", n), true
			}
		},
	}
}

// LabelCombination labels by the running set, e.g. "CH-1+CH-3".
func LabelCombination() Labeler {
	return Labeler{
		Policy: LabelByCombination,
		label: func(running []string) (string, bool) {
			if len(running) == 0 {
				return "", false
			}
			return combination(running), true
		},
	}
}

// LabelCombinationFixedCount is LabelCombination restricted to running sets
// of exactly n devices.
func LabelCombinationFixedCount(n int) Labeler {
	return Labeler{
		Policy: LabelByCombinationFixedCount,
		label: func(running []string) (string, bool) {
			if len(running) == 0 || len(running) != n {
				return "", false
			}
			return combination(running), true
		},
	}
}

// ParseLabeler maps a label_by name to its policy. The fixed count only applies
// to chiller_combination_fixed_count; without one that policy behaves like
// chiller_combination.
func ParseLabeler(labelBy string, fixedCount *int) (Labeler, error) {
	switch labelBy {
	case LabelByCount:
		return LabelCount(), nil
	case LabelByCombination:
		return LabelCombination(), nil
	case LabelByCombinationFixedCount:
		if fixedCount == nil {
			l := LabelCombination()
			l.Policy = LabelByCombinationFixedCount
			return l, nil
		}
		return LabelCombinationFixedCount(*fixedCount), nil
	default:
		return Labeler{}, fmt.Errorf("unsupported label_by %q", labelBy)
	}
}

// ShortName abbreviates a chiller id to CH-<suffix>, where the suffix follows
// the last underscore.
func ShortName(device string) string {
	if i := strings.LastIndexByte(device, '_'); i >= 0 {
		return "CH-" + device[i+1:]
	}
	return "CH-" + device
}

func combination(running []string) string {
	parts := make([]string, len(running))
	for i, d := range running {
		parts[i] = ShortName(d)
	}
	return strings.Join(parts, "+")
}

type Point struct {
	Timestamp time.Time
	X, Y      float64
}

// Group is one labeled trace. Points keep record order.
type Group struct {
	Label  string
	Points []Point
}

// GroupBy classifies records by the devices running at each instant. Records
// missing x or y are skipped. Groups are ordered numerically by leading count
// for the count policy and alphabetically otherwise.
func GroupBy(records []timeseries.Record, status StatusMap, devices []string, labeler Labeler, x, y string) []Group {
	index := map[string]int{}
	var groups []Group
	for _, r := range records {
		xv, ok := r.Value(x)
		if !ok {
			continue
		}
		yv, ok := r.Value(y)
		if !ok {
			continue
		}
		label, ok := labeler.Label(status.Running(r.Timestamp, devices))
		if !ok {
			continue
		}
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, Group{Label: label})
		}
		groups[i].Points = append(groups[i].Points, Point{Timestamp: r.Timestamp, X: xv, Y: yv})
	}

	slices.SortFunc(groups, func(a, b Group) int {
		if labeler.numeric {
			if c := leadingInt(a.Label) - leadingInt(b.Label); c != 0 {
				return c
			}
		}
		return strings.Compare(a.Label, b.Label)
	})
	return groups
}

func leadingInt(s string) int {
	head, _, _ := strings.Cut(s, " ")
	n, _ := strconv.Atoi(head)
	return n
}

// Labels returns the group labels in order.
func Labels(groups []Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = g.Label
	}
	return out
}

// PointCount sums the points of all groups.
func PointCount(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Points)
	}
	return n
}
