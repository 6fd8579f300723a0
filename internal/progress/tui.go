package progress

import (
	"fmt"
	"strings"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dsm-tiler/internal/model"
	"dsm-tiler/internal/pipeline"
)

const recentTiles = 6

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type eventMsg pipeline.Event

type runDoneMsg struct {
	summary model.RunSummary
	err     error
}

// Model is the bubbletea model behind --tui.
type Model struct {
	bar    bprogress.Model
	spin   spinner.Model
	cancel func()

	runID   string
	total   int
	done    int
	ok      int
	failed  int
	resumed int
	batch   string
	tileID  string
	phase   string
	recent  []string

	canceling bool
	finished  bool
	summary   model.RunSummary
	err       error
}

func NewModel(cancel func()) Model {
	if cancel == nil {
		cancel = func() {}
	}
	return Model{
		bar:    bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(48)),
		spin:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		cancel: cancel,
		phase:  "starting",
	}
}

func (m Model) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.finished {
				return m, tea.Quit
			}
			if !m.canceling {
				m.canceling = true
				m.cancel()
			}
		}
		return m, nil
	case tea.WindowSizeMsg:
		width := msg.Width - 8
		if width > 80 {
			width = 80
		}
		if width > 10 {
			m.bar.Width = width
		}
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case eventMsg:
		m.apply(pipeline.Event(msg))
		return m, nil
	case runDoneMsg:
		m.finished = true
		m.summary = msg.summary
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) apply(ev pipeline.Event) {
	switch ev.Kind {
	case pipeline.EventRunStarted:
		m.runID = ev.RunID
		m.total = ev.Total
	case pipeline.EventBatchStarted:
		m.batch = ev.Batch
	case pipeline.EventTileStage:
		m.tileID = ev.TileID
		m.phase = string(ev.Timing.To)
	case pipeline.EventTileFinished:
		m.done = ev.Index
		if ev.Result == nil {
			return
		}
		switch {
		case ev.Result.Resumed:
			m.ok++
			m.resumed++
		case ev.Result.Success:
			m.ok++
		default:
			m.failed++
		}
		m.recent = append(m.recent, finishedLine(ev.Index, ev.Total, *ev.Result))
		if len(m.recent) > recentTiles {
			m.recent = m.recent[len(m.recent)-recentTiles:]
		}
	case pipeline.EventRunFinished:
		if ev.Summary != nil {
			m.summary = *ev.Summary
		}
	}
}

func (m Model) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

func (m Model) View() string {
	lines := []string{tuiTitleStyle.Render("dsm-tiler")}
	if m.runID != "" {
		lines = append(lines, tuiMutedStyle.Render("run "+m.runID))
	}
	lines = append(lines, "", m.bar.ViewAs(m.percent()))

	status := fmt.Sprintf("%s %d/%d", m.spin.View(), m.done, m.total)
	if m.batch != "" {
		status += "  " + m.batch
	}
	if m.tileID != "" && !m.finished {
		status += fmt.Sprintf("  tile %s %s", m.tileID, tuiMutedStyle.Render(m.phase))
	}
	lines = append(lines, status)

	counts := tuiOKStyle.Render(fmt.Sprintf("ok %d", m.ok))
	if m.failed > 0 {
		counts += "  " + tuiErrorStyle.Render(fmt.Sprintf("failed %d", m.failed))
	}
	if m.resumed > 0 {
		counts += "  " + tuiMutedStyle.Render(fmt.Sprintf("resumed %d", m.resumed))
	}
	lines = append(lines, counts)

	if len(m.recent) > 0 {
		lines = append(lines, "")
		for _, r := range m.recent {
			lines = append(lines, tuiMutedStyle.Render(r))
		}
	}

	lines = append(lines, "")
	switch {
	case m.finished:
		lines = append(lines, tuiMutedStyle.Render("done"))
	case m.canceling:
		lines = append(lines, tuiErrorStyle.Render("canceling after the current stage..."))
	default:
		lines = append(lines, tuiMutedStyle.Render("q: cancel"))
	}
	return tuiPanelStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// RunTUI drives run under a bubbletea program. Events reach the model through
// the observer handed to run. It returns once run has returned.
func RunTUI(cancel func(), run func(pipeline.Observer) (model.RunSummary, error)) (model.RunSummary, error) {
	if cancel == nil {
		cancel = func() {}
	}
	p := tea.NewProgram(NewModel(cancel))
	result := make(chan runDoneMsg, 1)
	go func() {
		summary, err := run(func(ev pipeline.Event) {
			p.Send(eventMsg(ev))
		})
		msg := runDoneMsg{summary: summary, err: err}
		result <- msg
		p.Send(msg)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return model.RunSummary{}, fmt.Errorf("progress ui: %w", err)
	}
	msg := <-result
	return msg.summary, msg.err
}
