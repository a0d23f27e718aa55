// File: internal/store/store_test.go
package store

import (
	"context"
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riftlab/automaton/api/schemas"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "automaton.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleScript(name string) *schemas.Script {
	return &schemas.Script{
		Name:         name,
		TemplateRefs: []string{"dialog"},
		Rules: []schemas.RuleSpec{{
			Name: "r1", Condition: `found("dialog")`,
			ThenActions: []string{"press_enter"}, Active: true,
		}},
		Actions: map[string][]schemas.GameAction{
			"press_enter": {
				{Type: schemas.ActionKeyDown, Key: "enter", PostDelayMs: 40},
				{Type: schemas.ActionKeyUp, Key: "enter"},
			},
		},
		IntervalMs: 100,
	}
}

func TestScriptRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	script := sampleScript("demo")
	require.NoError(t, st.SaveScript(ctx, script))
	assert.Equal(t, "demo", script.ID)
	assert.False(t, script.UpdatedAt.IsZero())

	got, err := st.GetScript(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, script.Rules, got.Rules)
	assert.Equal(t, script.Actions, got.Actions)
	assert.Equal(t, 100, got.IntervalMs)
}

func TestScriptUpsertAndDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveScript(ctx, sampleScript("demo")))
	updated := sampleScript("demo")
	updated.IntervalMs = 500
	require.NoError(t, st.SaveScript(ctx, updated))

	got, err := st.GetScript(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, 500, got.IntervalMs)

	require.NoError(t, st.DeleteScript(ctx, "demo"))
	_, err = st.GetScript(ctx, "demo")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListScriptsOrdered(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveScript(ctx, sampleScript("b")))
	require.NoError(t, st.SaveScript(ctx, sampleScript("a")))

	scripts, err := st.ListScripts(ctx)
	require.NoError(t, err)
	require.Len(t, scripts, 2)
	assert.Equal(t, "a", scripts[0].Name)
	assert.Equal(t, "b", scripts[1].Name)
}

func TestSaveScriptValidation(t *testing.T) {
	st := openTestStore(t)
	require.Error(t, st.SaveScript(context.Background(), nil))
	require.Error(t, st.SaveScript(context.Background(), &schemas.Script{}))
}

func TestTemplateRoundTripAndVersioning(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 3)
	}
	tmpl := &schemas.Template{
		Name:      "dialog",
		Img:       img,
		Region:    schemas.Region{X: 10, Y: 20, Width: 30, Height: 40},
		Threshold: 0.85,
	}
	require.NoError(t, st.SaveTemplate(ctx, tmpl))
	assert.Equal(t, 1, tmpl.Version)
	assert.Equal(t, schemas.AlgorithmNCC, tmpl.Algorithm)

	got, err := st.GetTemplate(ctx, "dialog")
	require.NoError(t, err)
	assert.Equal(t, img.Pix, got.Img.Pix)
	assert.Equal(t, tmpl.Region, got.Region)
	assert.Equal(t, 0.85, got.Threshold)
	assert.Equal(t, 1, got.Version)

	// Every edit bumps the version.
	require.NoError(t, st.SaveTemplate(ctx, tmpl))
	assert.Equal(t, 2, tmpl.Version)
	got, err = st.GetTemplate(ctx, "dialog")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)

	require.NoError(t, st.DeleteTemplate(ctx, "dialog"))
	_, err = st.GetTemplate(ctx, "dialog")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTemplateValidation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	require.Error(t, st.SaveTemplate(ctx, nil))
	require.Error(t, st.SaveTemplate(ctx, &schemas.Template{Name: "noimg"}))
}

func TestMachineRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	spec := &schemas.MachineSpec{
		Name: "combat",
		States: []schemas.StateSpec{
			{Name: "Fighting", Vars: map[string]schemas.Value{"hp_floor": schemas.Number(30)}},
		},
		Transitions: []schemas.TransitionSpec{
			{From: "Initial", To: "Fighting", Guard: "ready"},
		},
	}
	require.NoError(t, st.SaveMachine(ctx, spec))
	assert.Equal(t, "combat", spec.ID)

	got, err := st.GetMachine(ctx, "combat")
	require.NoError(t, err)
	assert.Equal(t, spec.States, got.States)
	assert.Equal(t, spec.Transitions, got.Transitions)

	require.NoError(t, st.DeleteMachine(ctx, "combat"))
	_, err = st.GetMachine(ctx, "combat")
	require.ErrorIs(t, err, ErrNotFound)
}
