// Package agents implements the specialized extraction agents. Each agent
// builds a bounded textual context from the shared world-model snapshot and
// the narrative text, and parses its own completion back into typed
// operations. Agents never see each other's output; the engine fans out to
// all of them against one snapshot and joins.
package agents

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"fabula/internal/ops"
	"fabula/internal/world"
)

// Agent is the shared contract of the five per-turn extractors.
type Agent interface {
	// Name identifies the agent in metrics and logs.
	Name() string
	// BuildContext renders the instruction and the snapshot+narrative
	// context for the completion boundary.
	BuildContext(snap *world.Snapshot, narrative string) (systemPrompt, userPrompt string)
	// Parse turns raw completion text into a result. A structurally invalid
	// payload returns an error; the engine treats that as a soft failure of
	// this one agent.
	Parse(snap *world.Snapshot, raw string) (Result, error)
}

// Result is one agent's contribution to the turn.
type Result struct {
	Batch  ops.Batch
	Resume string
	// LocalDrops lists operations the agent rejected during its own
	// re-validation (e.g. a purchase that would overdraw), with reasons.
	LocalDrops []string
}

// maxNarrativeChars bounds the narrative excerpt included in agent context.
const maxNarrativeChars = 6000

func boundedNarrative(narrative string) string {
	narrative = strings.TrimSpace(narrative)
	if len(narrative) <= maxNarrativeChars {
		return narrative
	}
	// Advance past continuation bytes so the cut never splits a rune.
	cut := len(narrative) - maxNarrativeChars
	for cut < len(narrative) && !utf8.RuneStart(narrative[cut]) {
		cut++
	}
	return narrative[cut:]
}

func writeHeader(b *strings.Builder, snap *world.Snapshot) {
	fmt.Fprintf(b, "Cycle %d (%s). Credits: %d.\n", snap.Cycle, snap.Weekday, snap.Credits)
	fmt.Fprintf(b, "Gauges: energy %.1f, morale %.1f, health %.1f (scale 1-5).\n",
		snap.Gauges.Energy, snap.Gauges.Morale, snap.Gauges.Health)
}

func writeEntityIndex(b *strings.Builder, snap *world.Snapshot) {
	if len(snap.EntityIndex) == 0 {
		b.WriteString("No known entities yet.\n")
		return
	}
	b.WriteString("Known entities:\n")
	for _, e := range snap.EntityIndex {
		fmt.Fprintf(b, "- [%s] %s", e.Type, e.CanonicalName)
		if len(e.Aliases) > 0 {
			fmt.Fprintf(b, " (aka %s)", strings.Join(e.Aliases, ", "))
		}
		b.WriteString("\n")
	}
}

func writeRelations(b *strings.Builder, snap *world.Snapshot, names map[string]string) {
	if len(snap.Relations) == 0 {
		b.WriteString("No established relations.\n")
		return
	}
	b.WriteString("Protagonist relations:\n")
	for _, r := range snap.Relations {
		name := names[r.TargetID]
		if name == "" {
			name = r.TargetID
		}
		fmt.Fprintf(b, "- %s: level %.1f/10", name, r.Level)
		if r.Disposition != "" {
			fmt.Fprintf(b, ", %s", r.Disposition)
		}
		b.WriteString("\n")
	}
}

func writeInventory(b *strings.Builder, snap *world.Snapshot) {
	if len(snap.Inventory) == 0 {
		b.WriteString("Inventory: empty.\n")
		return
	}
	b.WriteString("Inventory:\n")
	for _, item := range snap.Inventory {
		fmt.Fprintf(b, "- %s\n", item.CanonicalName)
	}
}

func writePlannedEvents(b *strings.Builder, snap *world.Snapshot) {
	if len(snap.PlannedEvents) == 0 {
		b.WriteString("No planned events.\n")
		return
	}
	b.WriteString("Planned events:\n")
	for _, e := range snap.PlannedEvents {
		cycle := "?"
		if e.ScheduledCycle != nil {
			cycle = fmt.Sprintf("%d", *e.ScheduledCycle)
		}
		fmt.Fprintf(b, "- %q (%s), cycle %s\n", e.Title, e.Category, cycle)
	}
}

// entityNameIndex maps entity id to canonical name for context rendering.
func entityNameIndex(snap *world.Snapshot) map[string]string {
	names := make(map[string]string, len(snap.EntityIndex))
	for _, e := range snap.EntityIndex {
		names[e.ID] = e.CanonicalName
	}
	return names
}
