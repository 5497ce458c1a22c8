// Package chart builds renderer-agnostic chart documents. Field names follow
// Plotly's figure JSON so front ends can render a Spec directly.
package chart

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

var (
	ErrMissingField     = errors.New("missing required field")
	ErrUnknownChartType = errors.New("unknown chart type")
)

const (
	gridColor   = "rgba(128,128,128,0.2)"
	transparent = "rgba(0,0,0,0)"
	trendColor  = "#e74c3c"
)

// Palette is used for series of the single-cloud, line, bar and axis charts.
var Palette = []string{
	"#3498db",
	"#e74c3c",
	"#2ecc71",
	"#9b59b6",
	"#f39c12",
	"#1abc9c",
	"#e91e63",
	"#00bcd4",
}

// Categorical is used for labeled groups.
var Categorical = []string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd",
	"#8c564b", "#e377c2", "#7f7f7f", "#bcbd22", "#17becf",
}

func color(palette []string, i int) string {
	return palette[i%len(palette)]
}

type Spec struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

type Trace struct {
	Type   string     `json:"type"`
	Mode   string     `json:"mode,omitempty"`
	Name   string     `json:"name,omitempty"`
	X      []any      `json:"x"`
	Y      []any      `json:"y"`
	Z      []any      `json:"z,omitempty"`
	YAxis  string     `json:"yaxis,omitempty"`
	Line   *LineStyle `json:"line,omitempty"`
	Marker *Marker    `json:"marker,omitempty"`
	Width  *float64   `json:"width,omitempty"`
}

// Marker fields Size and Color hold either one value for the whole trace or
// one value per point.
type Marker struct {
	Size       any       `json:"size,omitempty"`
	Opacity    float64   `json:"opacity,omitempty"`
	Color      any       `json:"color,omitempty"`
	Colorscale string    `json:"colorscale,omitempty"`
	Colorbar   *Colorbar `json:"colorbar,omitempty"`
	SizeMode   string    `json:"sizemode,omitempty"`
	SizeRef    float64   `json:"sizeref,omitempty"`
}

type Colorbar struct {
	Title string `json:"title"`
}

type Title struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
}

type Margin struct {
	L int `json:"l"`
	R int `json:"r"`
	T int `json:"t"`
	B int `json:"b"`
}

type Font struct {
	Family string `json:"family"`
}

type Axis struct {
	Title      string    `json:"title,omitempty"`
	Type       string    `json:"type,omitempty"`
	GridColor  string    `json:"gridcolor,omitempty"`
	ShowGrid   *bool     `json:"showgrid,omitempty"`
	Side       string    `json:"side,omitempty"`
	Overlaying string    `json:"overlaying,omitempty"`
	Range      []float64 `json:"range,omitempty"`
	TickMode   string    `json:"tickmode,omitempty"`
	Tick0      *float64  `json:"tick0,omitempty"`
	DTick      *float64  `json:"dtick,omitempty"`
}

type Legend struct {
	Orientation string  `json:"orientation,omitempty"`
	X           float64 `json:"x,omitempty"`
	Y           float64 `json:"y,omitempty"`
	XAnchor     string  `json:"xanchor,omitempty"`
}

type Scene struct {
	XAxis Axis `json:"xaxis"`
	YAxis Axis `json:"yaxis"`
	ZAxis Axis `json:"zaxis"`
}

type Layout struct {
	Title        *Title   `json:"title,omitempty"`
	Autosize     bool     `json:"autosize,omitempty"`
	Margin       *Margin  `json:"margin,omitempty"`
	HoverMode    string   `json:"hovermode,omitempty"`
	PaperBGColor string   `json:"paper_bgcolor,omitempty"`
	PlotBGColor  string   `json:"plot_bgcolor,omitempty"`
	Font         *Font    `json:"font,omitempty"`
	XAxis        *Axis    `json:"xaxis,omitempty"`
	YAxis        *Axis    `json:"yaxis,omitempty"`
	YAxis2       *Axis    `json:"yaxis2,omitempty"`
	Scene        *Scene   `json:"scene,omitempty"`
	Legend       *Legend  `json:"legend,omitempty"`
	BarMode      string   `json:"barmode,omitempty"`
	BarGap       *float64 `json:"bargap,omitempty"`
	BarGroupGap  *float64 `json:"bargroupgap,omitempty"`
	Height       int      `json:"height,omitempty"`
	Width        int      `json:"width,omitempty"`
}

func ptr[T any](v T) *T { return &v }

func gridAxis(title string) *Axis {
	return &Axis{Title: title, GridColor: gridColor, ShowGrid: ptr(true)}
}

// defaultLayout is shared by the 2-D builders.
func defaultLayout(title, xLabel, yLabel string) Layout {
	return Layout{
		Title:        &Title{Text: title, X: 0.5},
		Autosize:     true,
		Margin:       &Margin{L: 60, R: 30, T: 50, B: 60},
		HoverMode:    "closest",
		PaperBGColor: transparent,
		PlotBGColor:  transparent,
		Font:         &Font{Family: "Inter, sans-serif"},
		XAxis:        gridAxis(xLabel),
		YAxis:        gridAxis(yLabel),
	}
}

// groupLayout is used for charts whose traces are labeled groups.
func groupLayout(title, xLabel, yLabel string) Layout {
	return Layout{
		Title:        &Title{Text: title, X: 0.5},
		XAxis:        gridAxis(xLabel),
		YAxis:        gridAxis(yLabel),
		HoverMode:    "closest",
		Legend:       &Legend{Orientation: "h", Y: -0.15, X: 0.5, XAnchor: "center"},
		PaperBGColor: transparent,
		PlotBGColor:  transparent,
	}
}

// axisType infers a date axis from field names mentioning timestamp.
func axisType(field string) string {
	if strings.Contains(strings.ToLower(field), "timestamp") {
		return "date"
	}
	return "-"
}

// isDateAxis reports whether x should be drawn on a date axis: the field is a
// timestamp by name, or its first non-null value is a time or RFC 3339 string.
func isDateAxis(field string, x []any) bool {
	if axisType(field) == "date" {
		return true
	}
	for _, v := range x {
		switch v := v.(type) {
		case nil:
			continue
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, v)
			return err == nil
		default:
			return false
		}
	}
	return false
}

// Humanize turns an identifier into a title: "chiller_1" becomes "Chiller 1".
func Humanize(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
