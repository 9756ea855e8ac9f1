package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tturner/cipadapter/internal/metrics"
	"github.com/tturner/cipadapter/internal/server"
)

// historyLen is how many polls the I/O sparkline keeps.
const historyLen = 120

// StatusSource is where the dashboard reads adapter state from.
type StatusSource interface {
	Status(ctx context.Context) (*server.Snapshot, error)
	Metrics(ctx context.Context) ([]metrics.Sample, error)
}

// Model is the live status dashboard.
type Model struct {
	source   StatusSource
	interval time.Duration
	styles   Styles
	width    int

	snap     *server.Snapshot
	err      error
	polled   time.Time
	paused   bool
	ioIn     []float64
	ioOut    []float64
	lastIn   int64
	lastOut  int64
	haveLast bool
}

// NewModel creates a dashboard polling source every interval.
func NewModel(source StatusSource, interval time.Duration) *Model {
	if interval <= 0 {
		interval = time.Second
	}
	return &Model{
		source:   source,
		interval: interval,
		styles:   DefaultStyles,
		width:    100,
	}
}

// tickMsg is sent every poll interval.
type tickMsg time.Time

// statusMsg carries one poll result.
type statusMsg struct {
	snap    *server.Snapshot
	samples []metrics.Sample
	err     error
	at      time.Time
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetchCmd() tea.Cmd {
	source, timeout := m.source, m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), max(timeout, time.Second))
		defer cancel()
		snap, err := source.Status(ctx)
		if err != nil {
			return statusMsg{err: err, at: time.Now()}
		}
		samples, err := source.Metrics(ctx)
		return statusMsg{snap: snap, samples: samples, err: err, at: time.Now()}
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tickMsg:
		if m.paused {
			return m, m.tickCmd()
		}
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())

	case statusMsg:
		m.apply(msg)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "p", " ":
			m.paused = !m.paused
		}
	}
	return m, nil
}

func (m *Model) apply(msg statusMsg) {
	m.polled = msg.at
	m.err = msg.err
	if msg.snap != nil {
		m.snap = msg.snap
	}
	if msg.samples == nil {
		return
	}
	in, out := sampleValue(msg.samples, metrics.IOPacketsIn), sampleValue(msg.samples, metrics.IOPacketsOut)
	if m.haveLast {
		m.ioIn = appendHistory(m.ioIn, float64(max(in-m.lastIn, 0)))
		m.ioOut = appendHistory(m.ioOut, float64(max(out-m.lastOut, 0)))
	}
	m.lastIn, m.lastOut, m.haveLast = in, out, true
}

// View implements tea.Model.
func (m *Model) View() string {
	s := m.styles
	width := max(m.width-2, 40)

	header := s.Title.Render("cipadapter") + s.Dim.Render("watching")
	if m.snap != nil {
		header += " " + s.Bold.Render(m.snap.Name)
	}
	if m.paused {
		header += "  " + s.Warning.Render("PAUSED")
	}
	if !m.polled.IsZero() {
		header += "  " + s.Dim.Render("polled "+m.polled.Format("15:04:05"))
	}

	content := header + "\n" + RenderStatus(m.snap, width, s)
	if m.haveLast {
		spark := width - 30
		content += "\n" + SectionBox("I/O PER POLL", fmt.Sprintf("%s %s  %s\n%s %s  %s",
			s.Label.Render("Consumed"), Sparkline(m.ioIn, spark, s), formatNumber(last(m.ioIn)),
			s.Label.Render("Produced"), Sparkline(m.ioOut, spark, s), formatNumber(last(m.ioOut)),
		), width, s)
	}
	if m.err != nil {
		content += "\n" + s.Error.Render("ERROR: "+m.err.Error())
	}

	footer := KeyHints([]KeyHint{
		{Key: "r", Label: "Refresh"},
		{Key: "p", Label: "Pause"},
		{Key: "q", Label: "Quit"},
	}, s)
	return content + "\n\n" + s.Footer.Render(footer)
}

func sampleValue(samples []metrics.Sample, name string) int64 {
	for _, smp := range samples {
		if smp.Name == name {
			return smp.Value
		}
	}
	return 0
}

func appendHistory(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyLen {
		h = h[len(h)-historyLen:]
	}
	return h
}

func last(h []float64) float64 {
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1]
}
