package grouping

import (
	"slices"
	"strings"
	"time"

	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

const (
	StatusMetric = "status_read"

	chillerPrefix = "chiller_"
)

// StatusMap holds device status flags by instant. It is built per request and
// never shared. A device without an entry at an instant is treated as off.
type StatusMap map[int64]map[string]float64

// BuildStatusMap indexes device-tagged records carrying status_read. A nil
// status value counts as 0.
func BuildStatusMap(records []timeseries.Record) StatusMap {
	m := StatusMap{}
	for _, r := range records {
		if r.DeviceID == "" || !r.Has(StatusMetric) {
			continue
		}
		v, _ := r.Value(StatusMetric)
		m.Set(r.Timestamp, r.DeviceID, v)
	}
	return m
}

func (m StatusMap) Set(ts time.Time, device string, status float64) {
	key := ts.UnixNano()
	devices, ok := m[key]
	if !ok {
		devices = map[string]float64{}
		m[key] = devices
	}
	devices[device] = status
}

// Status returns the flag of device at ts, 0 when unknown.
func (m StatusMap) Status(ts time.Time, device string) float64 {
	return m[ts.UnixNano()][device]
}

func (m StatusMap) IsRunning(ts time.Time, device string) bool {
	return m.Status(ts, device) >= 1
}

// Running returns the devices with status >= 1 at ts, sorted.
func (m StatusMap) Running(ts time.Time, devices []string) []string {
	var out []string
	for _, d := range devices {
		if m.IsRunning(ts, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// RunningChillers counts every chiller_* device running at ts, whether or not
// the caller asked about it.
func (m StatusMap) RunningChillers(ts time.Time) int {
	n := 0
	for d, s := range m[ts.UnixNano()] {
		if strings.HasPrefix(d, chillerPrefix) && s >= 1 {
			n++
		}
	}
	return n
}
