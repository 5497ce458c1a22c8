package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/altocentral/backend/analytics/pkg/agent/react"
	"github.com/altocentral/backend/analytics/pkg/logger"
	"github.com/altocentral/backend/analytics/pkg/templates"
	"github.com/altocentral/backend/analytics/pkg/timeseries"
)

var testNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	if testing.Verbose() {
		return logger.NewWithWriter(os.Stderr, true)
	}
	return logger.Discard()
}

type fakeStore struct {
	mu   sync.Mutex
	rows []timeseries.Row
}

func (s *fakeStore) Fetch(_ context.Context, q timeseries.FetchQuery) ([]timeseries.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []timeseries.Row
	for _, r := range s.rows {
		if r.DeviceID != q.DeviceID || !slices.Contains(q.Datapoints, r.Datapoint) {
			continue
		}
		if r.Timestamp.Before(q.Start) || !r.Timestamp.Before(q.End) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) Latest(context.Context, timeseries.LatestQuery) ([]timeseries.Row, error) {
	return nil, nil
}

// hourly adds one row per hour over the n hours before testNow.
func (s *fakeStore) hourly(device, datapoint string, n int, fn func(i int) float64) {
	for i := range n {
		v := fn(i)
		s.rows = append(s.rows, timeseries.Row{
			Timestamp: testNow.Add(-time.Duration(n-i) * time.Hour),
			DeviceID:  device,
			Datapoint: datapoint,
			Value:     &v,
		})
	}
}

func newPlantStore() *fakeStore {
	s := &fakeStore{}
	s.hourly("plant", "power", 48, func(i int) float64 { return 500 + float64(i%5)*5 })
	s.hourly("plant", "cooling_rate", 48, func(i int) float64 { return 1000 + float64(i%5)*10 })
	s.hourly("chiller_2", "power", 48, func(i int) float64 { return 300 + float64(i%5)*5 })
	s.hourly("chiller_2", "cooling_rate", 48, func(i int) float64 { return 600 + float64(i%5)*10 })
	return s
}

type siteDirectory map[string]string

func (d siteDirectory) Name(id string) string { return d[id] }

func (d siteDirectory) Location(string) *time.Location { return time.FixedZone("ICT", 7*60*60) }

type turn struct {
	text  string
	calls []react.ToolUse
}

// scriptedLLM plays back turns in order and then answers "done".
type scriptedLLM struct {
	mu      sync.Mutex
	turns   []turn
	next    int
	err     error
	systems []string
}

func (m *scriptedLLM) Call(_ context.Context, system string, _ []react.Message, _ []react.Tool) (react.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.systems = append(m.systems, system)
	if m.err != nil {
		return nil, m.err
	}
	if m.next >= len(m.turns) {
		return scriptedResponse{turn: turn{text: "done"}}, nil
	}
	t := m.turns[m.next]
	m.next++
	return scriptedResponse{turn: t, index: m.next}, nil
}

func (m *scriptedLLM) ConvertToMessage(any) react.Message {
	return react.GenericMessage{Role: "user"}
}

func (m *scriptedLLM) ConvertToolResults(uses []react.ToolUse, results []react.ToolResult) ([]react.Message, error) {
	msgs := make([]react.Message, len(uses))
	for i := range uses {
		msgs[i] = react.GenericMessage{Role: "tool", Content: results[i].Content}
	}
	return msgs, nil
}

func (m *scriptedLLM) CreateUserMessage(content string) react.Message {
	return react.GenericMessage{Role: "user", Content: content}
}

type scriptedResponse struct {
	turn  turn
	index int
}

func (r scriptedResponse) Content() []react.ContentBlock {
	var blocks []react.ContentBlock
	if r.turn.text != "" {
		blocks = append(blocks, textBlock(r.turn.text))
	}
	for i, c := range r.turn.calls {
		input, _ := json.Marshal(c.Input)
		blocks = append(blocks, toolBlock{id: fmt.Sprintf("call-%d-%d", r.index, i), name: c.Name, input: input})
	}
	return blocks
}

func (r scriptedResponse) ToMessage() react.Message {
	return react.GenericMessage{Role: "assistant", Content: r.turn.text}
}

type textBlock string

func (b textBlock) AsText() (string, bool) { return string(b), true }

func (b textBlock) AsToolUse() (string, string, []byte, bool) { return "", "", nil, false }

type toolBlock struct {
	id, name string
	input    []byte
}

func (b toolBlock) AsText() (string, bool) { return "", false }

func (b toolBlock) AsToolUse() (string, string, []byte, bool) { return b.id, b.name, b.input, true }

type fixture struct {
	svc     *Service
	catalog *templates.Catalog
	llm     *scriptedLLM
}

// newFixture builds a service over store. A nil llm disables the agent.
func newFixture(t *testing.T, store timeseries.Store, llm *scriptedLLM) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)

	acq, err := timeseries.NewAcquirer(&timeseries.AcquirerConfig{
		Logger: testLogger(t),
		Stores: timeseries.Static(store),
		Clock:  clock,
	})
	require.NoError(t, err)
	t.Cleanup(acq.Close)

	fs, err := templates.NewFileStore(t.TempDir())
	require.NoError(t, err)
	catalog, err := templates.NewCatalog(&templates.CatalogConfig{Logger: testLogger(t), Store: fs, Clock: clock})
	require.NoError(t, err)

	cfg := &Config{
		Logger:   testLogger(t),
		Acquirer: acq,
		Catalog:  catalog,
		Clock:    clock,
		Sites:    siteDirectory{"site-a": "Riverside Tower"},
	}
	if llm != nil {
		cfg.LLM = llm
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, catalog: catalog, llm: llm}
}

func use(name string, input map[string]any) react.ToolUse {
	return react.ToolUse{Name: name, Input: input}
}
