// Package performance names the performance-point system each server uses and
// drives an external pp calculator for recalculation and what-if simulation.
package performance

import (
	"context"
	"errors"
	"fmt"

	"github.com/rankwatch/rankwatch/pkg/model"
)

const (
	SystemRosu        = "rosu-pp_0.9.6"
	SystemAkatsukiRx  = "akatsuki-pp-rs_0.9.6"
	SystemTitanic     = "titanic-ppv2"
	SystemBancho      = "bancho-2022"
	SystemUnspecified = "unknown"
)

// SystemName returns the performance system that produced pp values for a
// (server, mode, relax) combination. Akatsuki runs a separate calculator for
// its relax and autopilot leaderboards.
func SystemName(server string, mode model.Mode, relax model.Relax) string {
	switch server {
	case "akatsuki":
		if relax > model.RelaxNone {
			return SystemAkatsukiRx
		}
		return SystemRosu
	case "titanic":
		return SystemTitanic
	case "bancho":
		return SystemBancho
	}
	return SystemUnspecified
}

// ErrBeatmapUnavailable is returned when the beatmap file cannot be obtained.
var ErrBeatmapUnavailable = errors.New("beatmap file unavailable")

// Setter receives calculation inputs. Only the setters for inputs that are
// known get called; anything left unset keeps the calculator's own default.
type Setter interface {
	SetMods(model.Mods)
	SetN300(int)
	SetN100(int)
	SetN50(int)
	SetMisses(int)
	SetGeki(int)
	SetKatu(int)
	SetCombo(int)
	SetAccuracy(float64)
}

// Session is a single calculation in progress.
type Session interface {
	Setter
	Performance(ctx context.Context, beatmap []byte) (float64, error)
}

// Calculator is an external pp calculator implementation.
type Calculator interface {
	Name() string
	NewSession(mode model.Mode) Session
}

// BeatmapSource provides raw beatmap files. md5 may be empty when the caller
// does not know the expected checksum.
type BeatmapSource interface {
	Beatmap(ctx context.Context, beatmapID int64, md5 string) ([]byte, error)
}

// SimulatedScore describes a hypothetical play. Nil fields are not forwarded
// to the calculator.
type SimulatedScore struct {
	BeatmapID int64
	Mode      model.Mode
	Mods      *model.Mods
	N300      *int
	N100      *int
	N50       *int
	Misses    *int
	Geki      *int
	Katu      *int
	MaxCombo  *int
	Accuracy  *float64
}

// Apply forwards every provided field to s.
func (sc SimulatedScore) Apply(s Setter) {
	if sc.Mods != nil {
		s.SetMods(*sc.Mods)
	}
	if sc.N300 != nil {
		s.SetN300(*sc.N300)
	}
	if sc.N100 != nil {
		s.SetN100(*sc.N100)
	}
	if sc.N50 != nil {
		s.SetN50(*sc.N50)
	}
	if sc.Misses != nil {
		s.SetMisses(*sc.Misses)
	}
	if sc.Geki != nil {
		s.SetGeki(*sc.Geki)
	}
	if sc.Katu != nil {
		s.SetKatu(*sc.Katu)
	}
	if sc.MaxCombo != nil {
		s.SetCombo(*sc.MaxCombo)
	}
	if sc.Accuracy != nil {
		s.SetAccuracy(*sc.Accuracy)
	}
}

// Recalculator recomputes pp for stored scores and simulates plays.
type Recalculator struct {
	Calc     Calculator
	Beatmaps BeatmapSource
}

func (r *Recalculator) beatmap(ctx context.Context, id int64, md5 string) ([]byte, error) {
	b, err := r.Beatmaps.Beatmap(ctx, id, md5)
	if err != nil {
		return nil, fmt.Errorf("beatmap %d: %w", id, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("beatmap %d: %w", id, ErrBeatmapUnavailable)
	}
	return b, nil
}

// Score recalculates a stored score. With asFC the misses are converted to
// 300s and the combo is left to the calculator's maximum.
func (r *Recalculator) Score(ctx context.Context, sc model.Score, asFC bool) (float64, error) {
	b, err := r.beatmap(ctx, sc.BeatmapID, sc.BeatmapMD5)
	if err != nil {
		return 0, err
	}
	s := r.Calc.NewSession(sc.Mode)
	s.SetMods(sc.Mods)
	s.SetN300(sc.Hits.Great)
	s.SetN100(sc.Hits.Good)
	s.SetN50(sc.Hits.Meh)
	s.SetMisses(sc.Hits.Miss)
	s.SetGeki(sc.Hits.Geki)
	s.SetKatu(sc.Hits.Katu)
	s.SetAccuracy(sc.Accuracy)
	if asFC {
		s.SetMisses(0)
		s.SetN300(sc.Hits.Great + sc.Hits.Miss)
	} else {
		s.SetCombo(sc.MaxCombo)
	}
	pp, err := s.Performance(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("calculate score %d (beatmap %d): %w", sc.ID, sc.BeatmapID, err)
	}
	return pp, nil
}

// Simulate computes pp for a hypothetical play.
func (r *Recalculator) Simulate(ctx context.Context, sim SimulatedScore) (float64, error) {
	b, err := r.beatmap(ctx, sim.BeatmapID, "")
	if err != nil {
		return 0, err
	}
	s := r.Calc.NewSession(sim.Mode)
	sim.Apply(s)
	pp, err := s.Performance(ctx, b)
	if err != nil {
		return 0, fmt.Errorf("simulate beatmap %d: %w", sim.BeatmapID, err)
	}
	return pp, nil
}
