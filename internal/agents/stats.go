package agents

import (
	"fmt"
	"math"
	"strings"

	"fabula/internal/ops"
	"fabula/internal/perception"
	"fabula/internal/world"
)

const statsInstruction = `You track the protagonist's gauges in a life simulation:
energy, morale and health, each on a 1-5 scale.
From the scene text, propose a delta for each gauge that visibly changed.
Allowed deltas: -2, -1.5, -1, -0.5, 0.5, 1, 1.5, 2. Use 0 for no change.
Physical exertion, late nights or illness move energy/health down; rest,
good food and good news move them up. Morale follows emotional beats.
Respond with exactly one JSON object: {"energy": 0, "morale": 0, "health": 0}`

// StatsAgent proposes gauge deltas from the fixed half-point set. It
// re-validates its own numbers: rounding to the nearest half point,
// clamping magnitude, and discarding any delta that would push its gauge
// outside [1,5], independent of the engine-level checks.
type StatsAgent struct{}

// NewStatsAgent returns the stats-delta extractor.
func NewStatsAgent() *StatsAgent { return &StatsAgent{} }

// Name implements Agent.
func (a *StatsAgent) Name() string { return "stats" }

// BuildContext implements Agent.
func (a *StatsAgent) BuildContext(snap *world.Snapshot, narrative string) (string, string) {
	var b strings.Builder
	writeHeader(&b, snap)
	b.WriteString("\nScene text:\n")
	b.WriteString(boundedNarrative(narrative))
	return statsInstruction, b.String()
}

// Parse implements Agent.
func (a *StatsAgent) Parse(snap *world.Snapshot, raw string) (Result, error) {
	var payload struct {
		Energy float64 `json:"energy"`
		Morale float64 `json:"morale"`
		Health float64 `json:"health"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("stats payload: %w", err)
	}

	var result Result
	deltas := ops.StatDeltas{}
	apply := func(name string, proposed, current float64, dst *float64) {
		if proposed == 0 {
			return
		}
		d := clampDelta(roundHalf(proposed))
		if next := current + d; next < world.GaugeMin || next > world.GaugeMax {
			result.LocalDrops = append(result.LocalDrops,
				fmt.Sprintf("stats: %s delta %v would leave [1,5] (current %v)", name, d, current))
			return
		}
		*dst = d
	}
	apply("energy", payload.Energy, snap.Gauges.Energy, &deltas.Energy)
	apply("morale", payload.Morale, snap.Gauges.Morale, &deltas.Morale)
	apply("health", payload.Health, snap.Gauges.Health, &deltas.Health)

	if !deltas.Empty() {
		result.Batch.StatDeltas = &deltas
	}
	return result, nil
}

// roundHalf rounds to the nearest 0.5.
func roundHalf(d float64) float64 {
	return math.Round(d*2) / 2
}

// clampDelta bounds a delta to [-2,2].
func clampDelta(d float64) float64 {
	if d > ops.StatDeltaMax {
		return ops.StatDeltaMax
	}
	if d < -ops.StatDeltaMax {
		return -ops.StatDeltaMax
	}
	return d
}
