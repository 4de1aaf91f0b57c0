package agents

import (
	"fmt"
	"strings"

	"fabula/internal/perception"
	"fabula/internal/world"
)

const resumeInstruction = `You summarize one scene of an ongoing life simulation.
Write a resume of 2 to 4 sentences capturing what actually happened: actions
taken, people involved, decisions made, anything with consequences. Write in
the past tense, third person. Do not speculate beyond the text.
Respond with exactly one JSON object: {"resume": "<your summary>"}`

// ResumeAgent condenses the turn's narrative into the closed scene's
// rolling summary.
type ResumeAgent struct{}

// NewResumeAgent returns the resume extractor.
func NewResumeAgent() *ResumeAgent { return &ResumeAgent{} }

// Name implements Agent.
func (a *ResumeAgent) Name() string { return "resume" }

// BuildContext implements Agent.
func (a *ResumeAgent) BuildContext(snap *world.Snapshot, narrative string) (string, string) {
	var b strings.Builder
	writeHeader(&b, snap)
	b.WriteString("\nScene text:\n")
	b.WriteString(boundedNarrative(narrative))
	return resumeInstruction, b.String()
}

// Parse implements Agent.
func (a *ResumeAgent) Parse(_ *world.Snapshot, raw string) (Result, error) {
	var payload struct {
		Resume string `json:"resume"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("resume payload: %w", err)
	}
	resume := strings.TrimSpace(payload.Resume)
	if resume == "" {
		return Result{}, fmt.Errorf("resume payload: empty resume")
	}
	return Result{Resume: resume}, nil
}
