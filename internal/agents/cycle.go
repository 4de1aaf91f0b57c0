package agents

import (
	"fmt"
	"strings"

	"fabula/internal/perception"
	"fabula/internal/world"
)

const cycleResumeInstruction = `You write the end-of-day digest for a life simulation.
Given the resumes of every scene of one in-world day, fold them into a
single narrative digest of 3 to 6 sentences, plus derived lists.
Respond with exactly one JSON object:
{"digest": "...", "key_events": ["..."], "characters_met": ["..."],
"locations_visited": ["..."], "tone": "one or two words"}`

// CycleResumeAgent folds all per-scene resumes of a completed in-world day
// into one digest with derived lists. It runs at day boundary, outside the
// five-way turn fan-out.
type CycleResumeAgent struct{}

// NewCycleResumeAgent returns the day-digest aggregator.
func NewCycleResumeAgent() *CycleResumeAgent { return &CycleResumeAgent{} }

// Name identifies the agent in metrics and logs.
func (a *CycleResumeAgent) Name() string { return "cycle_resume" }

// BuildContext renders the day's scene resumes for the completion boundary.
func (a *CycleResumeAgent) BuildContext(cycle int, weekday string, resumes []world.SceneResume) (string, string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Day %d (%s), %d scenes.\n\n", cycle, weekday, len(resumes))
	for i, r := range resumes {
		fmt.Fprintf(&b, "Scene %d: %s\n", i+1, r.Resume)
	}
	return cycleResumeInstruction, b.String()
}

// Parse turns the completion into a CycleResume record.
func (a *CycleResumeAgent) Parse(sessionID string, cycle int, raw string) (world.CycleResume, error) {
	var payload struct {
		Digest           string   `json:"digest"`
		KeyEvents        []string `json:"key_events"`
		CharactersMet    []string `json:"characters_met"`
		LocationsVisited []string `json:"locations_visited"`
		Tone             string   `json:"tone"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return world.CycleResume{}, fmt.Errorf("cycle resume payload: %w", err)
	}
	if strings.TrimSpace(payload.Digest) == "" {
		return world.CycleResume{}, fmt.Errorf("cycle resume payload: empty digest")
	}
	return world.CycleResume{
		SessionID:        sessionID,
		Cycle:            cycle,
		Digest:           strings.TrimSpace(payload.Digest),
		KeyEvents:        payload.KeyEvents,
		CharactersMet:    payload.CharactersMet,
		LocationsVisited: payload.LocationsVisited,
		Tone:             payload.Tone,
	}, nil
}
