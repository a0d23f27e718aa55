// File: internal/session/session_test.go
// End-to-end control loop tests over the static frame driver and a recording
// sink: a template appearing on screen must come out the far end as synthetic
// key events.
package session

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
	"github.com/riftlab/automaton/internal/config"
	"github.com/riftlab/automaton/internal/driver"
	"github.com/riftlab/automaton/internal/execution"
	"github.com/riftlab/automaton/internal/judgment"
	"github.com/riftlab/automaton/internal/perception"
	"github.com/riftlab/automaton/internal/recognition"
	"github.com/riftlab/automaton/internal/rules"
	"github.com/riftlab/automaton/internal/statemachine"
)

// recordingSink counts key events and can simulate a dead connection.
type recordingSink struct {
	mu        sync.Mutex
	keys      []string
	connected bool
}

func newRecordingSink() *recordingSink { return &recordingSink{connected: true} }

func (s *recordingSink) SendKey(code string, down bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false
	}
	if down {
		s.keys = append(s.keys, "down:"+code)
	} else {
		s.keys = append(s.keys, "up:"+code)
	}
	return true
}

func (s *recordingSink) SendText(string) bool                                    { return s.Connected() }
func (s *recordingSink) MoveMouse(int, int) bool                                 { return s.Connected() }
func (s *recordingSink) SendMouseButton(int, int, schemas.MouseButton, bool) bool { return s.Connected() }
func (s *recordingSink) SendWheel(int) bool                                      { return s.Connected() }

func (s *recordingSink) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *recordingSink) disconnect() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *recordingSink) recordedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.keys...)
}

// dialogPattern is a high-contrast 8x8 checker used as the on-screen cue.
func dialogPattern() *image.Gray {
	p := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if (x+y)%2 == 0 {
				p.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return p
}

func blankFrame() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 100
	}
	return img
}

func frameWithDialog() *image.Gray {
	img := blankFrame()
	p := dialogPattern()
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(12+x, 12+y, p.GrayAt(x, y))
		}
	}
	return img
}

func pressEnterScript() *schemas.Script {
	return &schemas.Script{
		Name:         "press-enter",
		TemplateRefs: []string{"dialog"},
		Rules: []schemas.RuleSpec{{
			Name:        "dialog_open",
			Condition:   `found("dialog")`,
			ThenActions: []string{"press_enter"},
			Active:      true,
		}},
		Actions: map[string][]schemas.GameAction{
			"press_enter": {
				{Type: schemas.ActionKeyDown, Key: "enter"},
				{Type: schemas.ActionKeyUp, Key: "enter"},
			},
		},
		IntervalMs: 5,
	}
}

func buildSession(t *testing.T, capturer schemas.ScreenCapturer, sink schemas.InputSink, script *schemas.Script) *Session {
	t.Helper()
	logger := zap.NewNop()
	recog := recognition.New(logger)
	perceptionSvc := perception.New(capturer, recog, logger)
	ruleEngine := rules.NewEngine(logger)
	machines := statemachine.NewRegistry(logger)
	judge := judgment.New(ruleEngine, machines, logger)
	planner := execution.NewPlanner(logger)
	dispatcher := execution.NewDispatcher(sink, logger)

	templates := []*schemas.Template{{
		ID: "dialog", Name: "dialog", Img: dialogPattern(), Threshold: 0.9,
	}}

	sess, err := New(config.SessionConfig{CycleTimeout: 5 * time.Second}, logger,
		perceptionSvc, judge, planner, dispatcher, ruleEngine, recog,
		script, templates, "")
	require.NoError(t, err)
	return sess
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSessionPressesEnterWhenDialogAppears(t *testing.T) {
	defer goleak.VerifyNone(t)

	capturer := driver.NewStaticCapturer(blankFrame(), frameWithDialog())
	sink := newRecordingSink()
	sess := buildSession(t, capturer, sink, pressEnterScript())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	waitFor(t, func() bool { return len(sink.recordedKeys()) >= 2 },
		"sink never saw the enter press")
	cancel()
	require.NoError(t, <-done)

	keys := sink.recordedKeys()
	assert.Equal(t, "down:enter", keys[0])
	assert.Equal(t, "up:enter", keys[1])
}

func TestSessionDoesNotActOnBlankScreen(t *testing.T) {
	defer goleak.VerifyNone(t)

	capturer := driver.NewStaticCapturer(blankFrame())
	sink := newRecordingSink()
	sess := buildSession(t, capturer, sink, pressEnterScript())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, sink.recordedKeys())
}

func TestSessionStopsOnSinkDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	capturer := driver.NewStaticCapturer(blankFrame(), frameWithDialog())
	sink := newRecordingSink()
	sink.disconnect()
	sess := buildSession(t, capturer, sink, pressEnterScript())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := sess.Run(ctx)
	require.ErrorIs(t, err, execution.ErrSinkDisconnected)
}

func TestSessionRequiresScript(t *testing.T) {
	logger := zap.NewNop()
	recog := recognition.New(logger)
	_, err := New(config.SessionConfig{}, logger,
		perception.New(driver.NewStaticCapturer(blankFrame()), recog, logger),
		judgment.New(rules.NewEngine(logger), statemachine.NewRegistry(logger), logger),
		execution.NewPlanner(logger), execution.NewDispatcher(newRecordingSink(), logger),
		rules.NewEngine(logger), recog, nil, nil, "")
	require.Error(t, err)
}

func TestSessionRejectsBrokenScript(t *testing.T) {
	script := pressEnterScript()
	script.Rules[0].Condition = "(("
	logger := zap.NewNop()
	recog := recognition.New(logger)
	ruleEngine := rules.NewEngine(logger)
	_, err := New(config.SessionConfig{}, logger,
		perception.New(driver.NewStaticCapturer(blankFrame()), recog, logger),
		judgment.New(ruleEngine, statemachine.NewRegistry(logger), logger),
		execution.NewPlanner(logger), execution.NewDispatcher(newRecordingSink(), logger),
		ruleEngine, recog, script, nil, "")
	require.Error(t, err)
}

func TestSessionAppliesMachineTransition(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := zap.NewNop()
	recog := recognition.New(logger)
	capturer := driver.NewStaticCapturer(blankFrame(), frameWithDialog())
	perceptionSvc := perception.New(capturer, recog, logger)
	ruleEngine := rules.NewEngine(logger)

	machines := statemachine.NewRegistry(logger)
	machine, err := machines.LoadSpec(&schemas.MachineSpec{
		ID:   "dialog-flow",
		Name: "dialog-flow",
		States: []schemas.StateSpec{
			{Name: "Engaged", Vars: map[string]schemas.Value{"in_dialog": schemas.Boolean(true)}},
		},
		Transitions: []schemas.TransitionSpec{
			{From: statemachine.InitialStateName, To: "Engaged"},
		},
		Rules: []schemas.RuleSpec{{
			Name:      "dialog_seen",
			Condition: `found("dialog")`,
			ToState:   "Engaged",
			Active:    true,
		}},
	})
	require.NoError(t, err)

	judge := judgment.New(ruleEngine, machines, logger)
	sink := newRecordingSink()
	dispatcher := execution.NewDispatcher(sink, logger)

	script := pressEnterScript()
	script.StateMachineID = "dialog-flow"
	templates := []*schemas.Template{{
		ID: "dialog", Name: "dialog", Img: dialogPattern(), Threshold: 0.9,
	}}

	sess, err := New(config.SessionConfig{CycleTimeout: 5 * time.Second}, logger,
		perceptionSvc, judge, execution.NewPlanner(logger), dispatcher,
		ruleEngine, recog, script, templates, machine.ID())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	waitFor(t, func() bool { return machine.CurrentState() == "Engaged" },
		"machine never left the initial state")
	// The triggering cycle still dispatched its actions.
	waitFor(t, func() bool { return len(sink.recordedKeys()) >= 2 },
		"sink never saw the enter press")
	cancel()
	require.NoError(t, <-done)

	assert.Empty(t, machine.DrainEvents(), "session must drain transition events")
}

func TestUpdateScriptHotSwap(t *testing.T) {
	capturer := driver.NewStaticCapturer(blankFrame())
	sink := newRecordingSink()
	sess := buildSession(t, capturer, sink, pressEnterScript())

	// A broken replacement is rejected and the old script stays.
	broken := pressEnterScript()
	broken.Rules[0].Condition = ")("
	require.Error(t, sess.UpdateScript(broken))
	require.Error(t, sess.UpdateScript(nil))

	replacement := pressEnterScript()
	replacement.Name = "v2"
	require.NoError(t, sess.UpdateScript(replacement))
}
