package agents

import (
	"fmt"
	"strings"

	"fabula/internal/ops"
	"fabula/internal/perception"
	"fabula/internal/world"
)

const eventInstruction = `You track events in a life simulation.
From the scene text, extract:
- "record": events that happened during the scene (meetings, discoveries,
  conflicts, purchases worth remembering, romantic moments).
- "plan": future commitments with an explicit day ("Saturday", "next
  tuesday") or an explicit cycle count ("in 3 days" -> "in_cycles": 3).
  Vague language ("someday", "maybe", "we should") plans NOTHING.
- "cancel": a previously planned event being called off, referenced by its
  title from the planned list.
Categories: social, work, purchase, discovery, conflict, romantic.
Recurring commitments ("every friday") carry
"recurrence": {"frequency": "weekly", "weekday": "friday"}.
Respond with exactly one JSON object:
{"events": [{"action": "plan", "title": "...", "category": "social",
"weekday": "saturday", "in_cycles": null, "location": "",
"participants": [], "recurrence": null}]}`

// EventAgent extracts occurred events, planned events (with target cycles
// derived from weekday arithmetic), and cancellations of planned titles.
type EventAgent struct{}

// NewEventAgent returns the event extractor.
func NewEventAgent() *EventAgent { return &EventAgent{} }

// Name implements Agent.
func (a *EventAgent) Name() string { return "event" }

// BuildContext implements Agent.
func (a *EventAgent) BuildContext(snap *world.Snapshot, narrative string) (string, string) {
	var b strings.Builder
	writeHeader(&b, snap)
	b.WriteString("\n")
	writePlannedEvents(&b, snap)
	b.WriteString("\nScene text:\n")
	b.WriteString(boundedNarrative(narrative))
	return eventInstruction, b.String()
}

type eventPayloadItem struct {
	Action       string            `json:"action"`
	Title        string            `json:"title"`
	Category     string            `json:"category"`
	Weekday      string            `json:"weekday"`
	InCycles     *int              `json:"in_cycles"`
	Location     string            `json:"location"`
	Participants []string          `json:"participants"`
	Recurrence   *world.Recurrence `json:"recurrence"`
}

// Parse implements Agent.
func (a *EventAgent) Parse(snap *world.Snapshot, raw string) (Result, error) {
	var payload struct {
		Events []eventPayloadItem `json:"events"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("event payload: %w", err)
	}

	var result Result
	for _, item := range payload.Events {
		switch strings.ToLower(item.Action) {
		case "record":
			result.Batch.EventRecords = append(result.Batch.EventRecords, ops.EventRecord{
				Title:        item.Title,
				Category:     item.Category,
				Location:     item.Location,
				Participants: item.Participants,
			})
		case "plan":
			plan := ops.EventPlan{
				Title:        item.Title,
				Category:     item.Category,
				Location:     item.Location,
				Participants: item.Participants,
				Recurrence:   item.Recurrence,
			}
			switch {
			case item.InCycles != nil && *item.InCycles > 0:
				cycle := snap.Cycle + *item.InCycles
				plan.ScheduledCycle = &cycle
			case item.Weekday != "":
				cycle, err := TargetCycle(snap.Cycle, snap.Weekday, item.Weekday)
				if err != nil {
					result.LocalDrops = append(result.LocalDrops,
						fmt.Sprintf("event: plan %q dropped: %v", item.Title, err))
					continue
				}
				plan.ScheduledCycle = &cycle
				plan.Weekday = strings.ToLower(strings.TrimSpace(item.Weekday))
			default:
				// No explicit commitment; the validator would drop it anyway,
				// but rejecting here keeps the reason specific.
				result.LocalDrops = append(result.LocalDrops,
					fmt.Sprintf("event: plan %q has no explicit day or cycle", item.Title))
				continue
			}
			result.Batch.EventPlans = append(result.Batch.EventPlans, plan)
		case "cancel":
			result.Batch.EventCancels = append(result.Batch.EventCancels, ops.EventCancel{
				Title: item.Title,
			})
		default:
			result.LocalDrops = append(result.LocalDrops,
				fmt.Sprintf("event: unknown action %q for %q", item.Action, item.Title))
		}
	}
	return result, nil
}
