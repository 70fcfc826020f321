package viz

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jregier/n1sim/internal/causal"
	"github.com/jregier/n1sim/internal/study"
)

const liveParamsDoc = `{
  "exposures": {
    "Treatment_1": {"gamma": 4, "tau": 7, "treatment_effect": -2}
  },
  "outcome": {
    "name": "Pain",
    "X_0": 12,
    "sigma_b": 0,
    "sigma_0": 0,
    "boundaries": [0, 15]
  },
  "variables": {},
  "dependencies": {"Treatment_1 -> Pain": 1},
  "over_time_dependencies": {}
}`

func newTestModel(t *testing.T) LiveModel {
	t.Helper()
	params, err := study.Load([]byte(liveParamsDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	engine, err := causal.New(params)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	design := study.Design{{Treatment: "Treatment_1", Days: 3}, {Days: 2}}
	sched, err := design.Expand(0)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	return NewLiveModel(engine, params, sched, 42, 0)
}

func tick(m LiveModel) LiveModel {
	next, _ := m.Update(TickMsg(time.Now()))
	return next.(LiveModel)
}

func press(m LiveModel, key string) LiveModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)})
	return next.(LiveModel)
}

func TestLiveModel_TickAdvances(t *testing.T) {
	m := newTestModel(t)
	if m.Init() == nil {
		t.Fatal("Init returned no tick command")
	}

	m = tick(m)
	if len(m.outcome) != 1 {
		t.Fatalf("outcome length = %d, want 1", len(m.outcome))
	}
	if m.current.Day != 0 || m.current.Treatment != "Treatment_1" {
		t.Errorf("current = day %d treatment %q", m.current.Day, m.current.Treatment)
	}

	for i := 0; i < 4; i++ {
		m = tick(m)
	}
	if len(m.outcome) != 5 {
		t.Fatalf("outcome length = %d, want 5", len(m.outcome))
	}
	if m.done {
		t.Fatal("done before the exhausted tick")
	}

	m = tick(m)
	if !m.done || m.running {
		t.Errorf("after exhaustion done = %v running = %v", m.done, m.running)
	}
}

func TestLiveModel_TickReplaysBatchRun(t *testing.T) {
	m := newTestModel(t)
	for !m.done {
		m = tick(m)
	}

	rng := rand.New(rand.NewPCG(42, 0))
	traj, err := m.engine.Run(context.Background(), 0, m.sched, rng)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := traj.Series("Pain")
	if len(want) != len(m.outcome) {
		t.Fatalf("series length = %d, want %d", len(m.outcome), len(want))
	}
	for i := range want {
		if m.outcome[i] != want[i] {
			t.Errorf("day %d: live %v, batch %v", i, m.outcome[i], want[i])
		}
	}
}

func TestLiveModel_PauseAndStep(t *testing.T) {
	m := newTestModel(t)

	m = press(m, " ")
	if m.running {
		t.Fatal("space did not pause")
	}
	m = tick(m)
	if len(m.outcome) != 0 {
		t.Fatalf("paused model advanced to %d days", len(m.outcome))
	}

	m = press(m, "n")
	if len(m.outcome) != 1 {
		t.Fatalf("manual step produced %d days, want 1", len(m.outcome))
	}

	m = press(m, " ")
	if !m.running {
		t.Fatal("space did not resume")
	}
	m = press(m, "n")
	if len(m.outcome) != 1 {
		t.Fatal("n stepped while running")
	}
}

func TestLiveModel_Restart(t *testing.T) {
	m := newTestModel(t)
	for i := 0; i < 6; i++ {
		m = tick(m)
	}
	if !m.done {
		t.Fatal("model not done after full playback")
	}

	m = press(m, "r")
	if m.done || !m.running || m.started || len(m.outcome) != 0 {
		t.Errorf("after restart done = %v running = %v started = %v days = %d",
			m.done, m.running, m.started, len(m.outcome))
	}

	m = tick(m)
	if len(m.outcome) != 1 {
		t.Fatalf("restarted model did not advance, days = %d", len(m.outcome))
	}
}

func TestLiveModel_Quit(t *testing.T) {
	m := newTestModel(t)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}

func TestLiveModel_View(t *testing.T) {
	m := newTestModel(t)
	view := m.View()
	if !strings.Contains(view, "RUNNING") {
		t.Errorf("fresh view missing status:\n%s", view)
	}

	for i := 0; i < 4; i++ {
		m = tick(m)
	}
	view = m.View()
	for _, want := range []string{"PAIN", "Treatment_1", "Day", "Observed", "SP:Pause"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m = press(m, " ")
	if !strings.Contains(m.View(), "PAUSED") {
		t.Error("paused view missing status")
	}
}
