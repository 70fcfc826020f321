package viz

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jregier/n1sim/internal/causal"
	"github.com/jregier/n1sim/internal/study"
)

const (
	chartWidth    = 60
	chartHeight   = 8
	effectHeight  = 4
	daysPerSecond = 6
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(14)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type TickMsg time.Time

// LiveModel steps one patient through the study day by day.
type LiveModel struct {
	engine  *causal.Engine
	params  *study.Parameters
	sched   study.Schedule
	seed    int64
	patient int

	stepper *causal.Stepper
	current study.DayRecord
	outcome []float64
	effects map[string][]float64
	started bool
	running bool
	done    bool
}

// NewLiveModel prepares the live view for one patient. The same seed
// and patient yield exactly the trajectory a batch run would produce.
func NewLiveModel(engine *causal.Engine, params *study.Parameters, sched study.Schedule, seed int64, patient int) LiveModel {
	m := LiveModel{
		engine:  engine,
		params:  params,
		sched:   sched,
		seed:    seed,
		patient: patient,
		running: true,
	}
	m.restart()
	return m
}

func (m *LiveModel) restart() {
	rng := rand.New(rand.NewPCG(uint64(m.seed), uint64(m.patient)<<1))
	m.stepper = m.engine.Stepper(m.patient, m.sched, rng)
	m.current = study.DayRecord{}
	m.outcome = nil
	m.effects = make(map[string][]float64)
	m.started = false
	m.done = false
}

func (m *LiveModel) step() {
	rec, ok := m.stepper.Next()
	if !ok {
		m.done = true
		m.running = false
		return
	}
	m.started = true
	m.current = rec
	m.outcome = append(m.outcome, rec.Values[m.params.Outcome.Name])
	for _, name := range m.params.ExposureNames() {
		m.effects[name] = append(m.effects[name], rec.Effects[name])
	}
}

func (m LiveModel) Init() tea.Cmd {
	return tea.Tick(time.Second/daysPerSecond, func(t time.Time) tea.Msg { return TickMsg(t) })
}

// Update handles key input and advances the playback clock.
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			if !m.done {
				m.running = !m.running
			}
		case "n":
			if !m.running && !m.done {
				m.step()
			}
		case "r":
			m.restart()
			m.running = true
		}
	case TickMsg:
		if m.running && !m.done {
			m.step()
		}
		return m, tea.Tick(time.Second/daysPerSecond, func(t time.Time) tea.Msg { return TickMsg(t) })
	}
	return m, nil
}

// View renders the charts and the current day's numbers.
func (m LiveModel) View() string {
	var s strings.Builder

	title := fmt.Sprintf("%s, patient %d", m.params.Outcome.Name, m.patient)
	s.WriteString(headerStyle.Render(strings.ToUpper(title)) + "\n")

	status := "RUNNING"
	switch {
	case m.done:
		status = "DONE"
	case !m.running:
		status = "PAUSED"
	}
	s.WriteString(statusStyle.Render(status) + "\n")

	if len(m.outcome) > 1 {
		chart := PlotSeries(m.outcome, m.params.Outcome.Name, chartWidth, chartHeight)
		s.WriteString(graphStyle.Render(chart) + "\n")
	}
	for _, name := range m.params.ExposureNames() {
		series := m.effects[name]
		if len(series) > 1 {
			chart := PlotSeries(series, name+" effect", chartWidth, effectHeight)
			s.WriteString(graphStyle.Render(chart) + "\n")
		}
	}

	if m.started {
		treatment := m.current.Treatment
		if treatment == "" {
			treatment = "(washout)"
		}
		s.WriteString("\n")
		s.WriteString(labelStyle.Render("Day") + valueStyle.Render(fmt.Sprintf("%d of %d", m.current.Day+1, len(m.sched))) + "\n")
		s.WriteString(labelStyle.Render("Block") + valueStyle.Render(fmt.Sprintf("%d", m.current.Block)) + "\n")
		s.WriteString(labelStyle.Render("Treatment") + valueStyle.Render(treatment) + "\n")
		s.WriteString(labelStyle.Render("Since switch") + valueStyle.Render(fmt.Sprintf("%d", m.current.SinceSwitch)) + "\n")
		s.WriteString(labelStyle.Render("Observed") + valueStyle.Render(fmt.Sprintf("%.3f", m.current.Values[m.params.Outcome.Name])) + "\n")
		s.WriteString(labelStyle.Render("Underlying") + valueStyle.Render(fmt.Sprintf("%.3f", m.current.Latent)) + "\n")
		s.WriteString(labelStyle.Render("Drift") + valueStyle.Render(fmt.Sprintf("%.3f", m.current.Drift)) + "\n")
		for _, name := range m.params.ExposureNames() {
			line := fmt.Sprintf("taken=%d effect=%.3f", m.current.Indicators[name], m.current.Effects[name])
			s.WriteString(labelStyle.Render(name) + valueStyle.Render(line) + "\n")
		}
		for _, name := range m.params.VariableNames() {
			s.WriteString(labelStyle.Render(name) + valueStyle.Render(fmt.Sprintf("%.3f", m.current.Values[name])) + "\n")
		}
	}

	s.WriteString(helpStyle.Render("SP:Pause  N:Step  R:Restart  Q:Quit"))
	return s.String()
}
