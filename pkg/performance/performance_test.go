package performance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rankwatch/rankwatch/pkg/model"
)

type recordingSession struct {
	set map[string]interface{}
	pp  float64
}

func (r *recordingSession) SetMods(m model.Mods)    { r.set["mods"] = m }
func (r *recordingSession) SetN300(n int)           { r.set["n300"] = n }
func (r *recordingSession) SetN100(n int)           { r.set["n100"] = n }
func (r *recordingSession) SetN50(n int)            { r.set["n50"] = n }
func (r *recordingSession) SetMisses(n int)         { r.set["misses"] = n }
func (r *recordingSession) SetGeki(n int)           { r.set["geki"] = n }
func (r *recordingSession) SetKatu(n int)           { r.set["katu"] = n }
func (r *recordingSession) SetCombo(n int)          { r.set["combo"] = n }
func (r *recordingSession) SetAccuracy(acc float64) { r.set["acc"] = acc }
func (r *recordingSession) Performance(context.Context, []byte) (float64, error) {
	return r.pp, nil
}

type recordingCalc struct{ last *recordingSession }

func (c *recordingCalc) Name() string { return "recording" }
func (c *recordingCalc) NewSession(model.Mode) Session {
	c.last = &recordingSession{set: map[string]interface{}{}, pp: 123.4}
	return c.last
}

type staticBeatmaps map[int64][]byte

func (s staticBeatmaps) Beatmap(_ context.Context, id int64, _ string) ([]byte, error) {
	return s[id], nil
}

func TestSystemNameIsPure(t *testing.T) {
	for _, server := range []string{"akatsuki", "titanic", "bancho", "other"} {
		for _, mode := range model.Modes {
			for _, rx := range []model.Relax{model.RelaxNone, model.RelaxRelax, model.RelaxAutopilot} {
				assert.Equal(t, SystemName(server, mode, rx), SystemName(server, mode, rx))
			}
		}
	}
	assert.Equal(t, SystemRosu, SystemName("akatsuki", model.ModeOsu, model.RelaxNone))
	assert.Equal(t, SystemAkatsukiRx, SystemName("akatsuki", model.ModeOsu, model.RelaxRelax))
	assert.Equal(t, SystemTitanic, SystemName("titanic", model.ModeMania, model.RelaxNone))
	assert.Equal(t, SystemBancho, SystemName("bancho", model.ModeTaiko, model.RelaxNone))
}

func TestSimulateOnlyForwardsProvidedFields(t *testing.T) {
	calc := &recordingCalc{}
	r := &Recalculator{Calc: calc, Beatmaps: staticBeatmaps{75: []byte("osu file format v14")}}

	mods := model.ModHidden
	combo := 0
	pp, err := r.Simulate(context.Background(), SimulatedScore{BeatmapID: 75, Mods: &mods, MaxCombo: &combo})
	require.NoError(t, err)
	assert.Equal(t, 123.4, pp)
	assert.Equal(t, map[string]interface{}{"mods": model.ModHidden, "combo": 0}, calc.last.set)
}

func TestScoreAsFullCombo(t *testing.T) {
	calc := &recordingCalc{}
	r := &Recalculator{Calc: calc, Beatmaps: staticBeatmaps{75: []byte("x")}}
	sc := model.Score{ID: 1, BeatmapID: 75, MaxCombo: 321, Hits: model.Hits{Great: 400, Good: 10, Miss: 3}, Accuracy: 97.5}

	_, err := r.Score(context.Background(), sc, true)
	require.NoError(t, err)
	assert.Equal(t, 403, calc.last.set["n300"])
	assert.Equal(t, 0, calc.last.set["misses"])
	assert.NotContains(t, calc.last.set, "combo")

	_, err = r.Score(context.Background(), sc, false)
	require.NoError(t, err)
	assert.Equal(t, 400, calc.last.set["n300"])
	assert.Equal(t, 3, calc.last.set["misses"])
	assert.Equal(t, 321, calc.last.set["combo"])
}

func TestMissingBeatmap(t *testing.T) {
	r := &Recalculator{Calc: &recordingCalc{}, Beatmaps: staticBeatmaps{}}
	_, err := r.Score(context.Background(), model.Score{BeatmapID: 9}, false)
	assert.True(t, errors.Is(err, ErrBeatmapUnavailable))
}
