package viz

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/pastis/internal/pastis"
)

const barWidth = 40

type (
	TickMsg  time.Time
	StageMsg string

	ModeDoneMsg struct {
		Mode, Done, Total int
	}

	// PairMsg carries a half-matrix entry before normalization.
	PairMsg struct {
		I, J     int
		Contrast float64
	}

	DoneMsg struct {
		Result *pastis.Result
		Err    error
	}
)

// Progress is a bubbletea model showing a running calculation.
type Progress struct {
	title    string
	stage    string
	done     int
	total    int
	pairs    int
	diagonal map[int]float64
	started  time.Time
	frame    int
	result   *pastis.Result
	err      error
	quitting bool
}

func NewProgress(title string) Progress {
	return Progress{
		title:    title,
		diagonal: make(map[int]float64),
		started:  time.Now(),
	}
}

func (m Progress) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(time.Second/10, func(t time.Time) tea.Msg { return TickMsg(t) })
}

func (m Progress) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
	case TickMsg:
		m.frame++
		return m, tick()
	case StageMsg:
		m.stage = string(msg)
	case ModeDoneMsg:
		m.done, m.total = msg.Done, msg.Total
	case PairMsg:
		m.pairs++
		if msg.I == msg.J {
			m.diagonal[msg.I] = msg.Contrast
		}
	case DoneMsg:
		m.result, m.err = msg.Result, msg.Err
		return m, tea.Quit
	}
	return m, nil
}

// Quitting reports whether the user asked to stop.
func (m Progress) Quitting() bool { return m.quitting }

func (m Progress) View() string {
	var s strings.Builder
	s.WriteString(Title.Render(m.title) + "\n\n")

	switch {
	case m.err != nil:
		s.WriteString(StatusFailed.Render("failed") + "  " + m.err.Error() + "\n")
	case m.result != nil:
		s.WriteString(StatusRunning.Render("done") + "\n")
	default:
		s.WriteString(Spinner(m.frame) + " " + Metric("stage", m.stage) + "\n")
	}

	frac := 0.0
	if m.total > 0 {
		frac = float64(m.done) / float64(m.total)
	}
	s.WriteString(ProgressBar(frac, barWidth) + fmt.Sprintf(" %d/%d modes\n", m.done, m.total))
	if m.total > 0 {
		s.WriteString(Metric("pairs", fmt.Sprintf("%d/%d", m.pairs, pastis.NumPairs(m.total))) + "\n")
	}
	s.WriteString(Metric("elapsed", time.Since(m.started).Round(time.Second).String()) + "\n")

	if diag := m.diagonalValues(); len(diag) > 1 {
		chart := asciigraph.Plot(diag, asciigraph.Height(5), asciigraph.Width(barWidth), asciigraph.Caption("self contrast per mode"))
		s.WriteString(Graph.Render(chart) + "\n")
	}

	if m.result == nil && m.err == nil {
		s.WriteString(KeyHint.Render("q: abort") + "\n")
	}
	return s.String()
}

// diagonalValues returns the self terms received so far in mode order.
func (m Progress) diagonalValues() []float64 {
	if len(m.diagonal) == 0 {
		return nil
	}
	out := make([]float64, 0, len(m.diagonal))
	for _, mode := range slices.Sorted(maps.Keys(m.diagonal)) {
		out = append(out, m.diagonal[mode])
	}
	return out
}

// Sender is satisfied by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards calculation events to a running program.
type Observer struct {
	Program Sender
}

var _ pastis.Observer = Observer{}

func (o Observer) OnStage(stage string) { o.Program.Send(StageMsg(stage)) }

func (o Observer) OnModeDone(mode, done, total int) {
	o.Program.Send(ModeDoneMsg{Mode: mode, Done: done, Total: total})
}

func (o Observer) OnPair(i, j int, contrast float64) {
	o.Program.Send(PairMsg{I: i, J: j, Contrast: contrast})
}
