package agents

import (
	"fmt"
	"strings"

	"fabula/internal/ops"
	"fabula/internal/perception"
	"fabula/internal/world"
)

const entityInstruction = `You maintain the cast and setting of a life simulation.
From the scene text, extract:
1. Entities: new characters, locations, items, organizations or narrative
   arcs introduced with a name ("action": "create"), and new facts learned
   about entities already in the known list ("action": "modify"). Facts the
   protagonist observed go in "visible"; facts only the narrator knows go
   in "hidden". Never invent names the text does not give.
2. Relations: changes in how characters stand with the protagonist. Each
   carries the character's name, an optional signed "delta" on the 0-10
   relationship level (small moments are 0.5-1, major ones up to 2), an
   optional "disposition" word (friendly, wary, hostile, smitten, ...), and
   an optional "romantic_stage" 0-6 when romance progresses.
Respond with exactly one JSON object:
{"entities": [{"action": "create", "type": "character", "name": "...",
"aliases": [], "visible": {}, "hidden": {}}],
"relations": [{"character": "...", "delta": 0.5, "disposition": "",
"romantic_stage": null}]}`

// EntityAgent extracts entity create/modify operations and relation
// adjustments against the protagonist.
type EntityAgent struct{}

// NewEntityAgent returns the entity/relation extractor.
func NewEntityAgent() *EntityAgent { return &EntityAgent{} }

// Name implements Agent.
func (a *EntityAgent) Name() string { return "entity" }

// BuildContext implements Agent.
func (a *EntityAgent) BuildContext(snap *world.Snapshot, narrative string) (string, string) {
	var b strings.Builder
	writeHeader(&b, snap)
	b.WriteString("\n")
	writeEntityIndex(&b, snap)
	b.WriteString("\n")
	writeRelations(&b, snap, entityNameIndex(snap))
	b.WriteString("\nScene text:\n")
	b.WriteString(boundedNarrative(narrative))
	return entityInstruction, b.String()
}

type entityPayloadItem struct {
	Action  string         `json:"action"`
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases"`
	Visible map[string]any `json:"visible"`
	Hidden  map[string]any `json:"hidden"`
}

// Parse implements Agent.
func (a *EntityAgent) Parse(_ *world.Snapshot, raw string) (Result, error) {
	var payload struct {
		Entities  []entityPayloadItem  `json:"entities"`
		Relations []ops.RelationModify `json:"relations"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("entity payload: %w", err)
	}

	var result Result
	for _, item := range payload.Entities {
		switch strings.ToLower(item.Action) {
		case "create":
			result.Batch.EntityCreates = append(result.Batch.EntityCreates, ops.EntityCreate{
				Type:    item.Type,
				Name:    item.Name,
				Aliases: item.Aliases,
				Visible: item.Visible,
				Hidden:  item.Hidden,
			})
		case "modify":
			result.Batch.EntityModifies = append(result.Batch.EntityModifies, ops.EntityModify{
				Name:    item.Name,
				Aliases: item.Aliases,
				Visible: item.Visible,
				Hidden:  item.Hidden,
			})
		default:
			result.LocalDrops = append(result.LocalDrops,
				fmt.Sprintf("entity: unknown action %q for %q", item.Action, item.Name))
		}
	}
	result.Batch.RelationModifies = payload.Relations
	return result, nil
}
