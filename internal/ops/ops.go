// Package ops models the mutations proposed by extraction agents as typed
// operation variants, one validator per kind. Agent output is parsed JSON
// from untrusted free text, so nothing here assumes a field is present or
// in range until its validator has said so.
package ops

import "fabula/internal/world"

// EntityCreate proposes a new world entity.
type EntityCreate struct {
	Type    string         `json:"type"`
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases,omitempty"`
	Visible map[string]any `json:"visible,omitempty"`
	Hidden  map[string]any `json:"hidden,omitempty"`
}

// EntityModify proposes merging facts into an existing entity, referenced
// by name. Keys are merged into the visible/hidden maps, never deleted.
type EntityModify struct {
	Name    string         `json:"name"`
	Aliases []string       `json:"aliases,omitempty"`
	Visible map[string]any `json:"visible,omitempty"`
	Hidden  map[string]any `json:"hidden,omitempty"`
}

// RelationModify proposes adjusting the protagonist's relation with a
// character: a signed level delta, an optional disposition overwrite, and
// an optional romantic stage. Legal only with a character reference and at
// least one of delta or disposition.
type RelationModify struct {
	Character     string   `json:"character"`
	Type          string   `json:"type,omitempty"`
	Delta         *float64 `json:"delta,omitempty"`
	Disposition   string   `json:"disposition,omitempty"`
	RomanticStage *int     `json:"romantic_stage,omitempty"`
}

// EventPlan proposes a future event. Either an explicit target cycle or a
// weekday (resolved by weekday arithmetic against the current cycle) must
// be present: vague temporal language never plans anything.
type EventPlan struct {
	Title          string            `json:"title"`
	Category       string            `json:"category"`
	Weekday        string            `json:"weekday,omitempty"`
	ScheduledCycle *int              `json:"scheduled_cycle,omitempty"`
	Location       string            `json:"location,omitempty"`
	Participants   []string          `json:"participants,omitempty"`
	Recurrence     *world.Recurrence `json:"recurrence,omitempty"`
}

// EventRecord proposes a past event, created as occurred directly.
type EventRecord struct {
	Title        string   `json:"title"`
	Category     string   `json:"category"`
	Location     string   `json:"location,omitempty"`
	Participants []string `json:"participants,omitempty"`
}

// EventCancel proposes cancelling a planned event referenced by title.
type EventCancel struct {
	Title string `json:"title"`
}

// Transaction proposes one economy movement. Amount is signed; debits are
// negative.
type Transaction struct {
	Type         string `json:"type"`
	Amount       int    `json:"amount,omitempty"`
	Item         string `json:"item,omitempty"`
	Category     string `json:"category,omitempty"`
	Counterparty string `json:"counterparty,omitempty"`
	LocationFrom string `json:"location_from,omitempty"`
	LocationTo   string `json:"location_to,omitempty"`
}

// StatDeltas proposes gauge adjustments from the discrete half-point set.
// A zero value means no change for that gauge.
type StatDeltas struct {
	Energy float64 `json:"energy,omitempty"`
	Morale float64 `json:"morale,omitempty"`
	Health float64 `json:"health,omitempty"`
}

// Empty reports whether no gauge moves.
func (d StatDeltas) Empty() bool {
	return d.Energy == 0 && d.Morale == 0 && d.Health == 0
}

// Batch collects every operation proposed for one turn, across all agents.
type Batch struct {
	EntityCreates    []EntityCreate
	EntityModifies   []EntityModify
	RelationModifies []RelationModify
	EventPlans       []EventPlan
	EventRecords     []EventRecord
	EventCancels     []EventCancel
	Transactions     []Transaction
	StatDeltas       *StatDeltas
}

// Merge folds other into b. A later StatDeltas wins over an earlier one;
// in practice only the stats agent produces one.
func (b *Batch) Merge(other Batch) {
	b.EntityCreates = append(b.EntityCreates, other.EntityCreates...)
	b.EntityModifies = append(b.EntityModifies, other.EntityModifies...)
	b.RelationModifies = append(b.RelationModifies, other.RelationModifies...)
	b.EventPlans = append(b.EventPlans, other.EventPlans...)
	b.EventRecords = append(b.EventRecords, other.EventRecords...)
	b.EventCancels = append(b.EventCancels, other.EventCancels...)
	b.Transactions = append(b.Transactions, other.Transactions...)
	if other.StatDeltas != nil {
		b.StatDeltas = other.StatDeltas
	}
}

// Size returns the number of operations in the batch.
func (b Batch) Size() int {
	n := len(b.EntityCreates) + len(b.EntityModifies) + len(b.RelationModifies) +
		len(b.EventPlans) + len(b.EventRecords) + len(b.EventCancels) +
		len(b.Transactions)
	if b.StatDeltas != nil && !b.StatDeltas.Empty() {
		n++
	}
	return n
}
