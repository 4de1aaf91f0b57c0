// Package world defines the structured world model kept in sync with the
// narrator's output: entities, relations, events, transactions, and the
// protagonist's stat gauges, plus the sqlite store adapter that persists them.
package world

// EntityType classifies a world-model entity.
type EntityType string

const (
	EntityCharacter    EntityType = "character"
	EntityLocation     EntityType = "location"
	EntityItem         EntityType = "item"
	EntityOrganization EntityType = "organization"
	EntityNarrativeArc EntityType = "narrative_arc"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityCharacter, EntityLocation, EntityItem, EntityOrganization, EntityNarrativeArc:
		return true
	}
	return false
}

// Entity is a durable world-model record. The canonical name (normalized)
// is unique among all entities of a session, and aliases never collide with
// another entity's canonical name. Entities are never hard-deleted.
type Entity struct {
	ID             string         `json:"id"`
	SessionID      string         `json:"session_id"`
	Type           EntityType     `json:"type"`
	CanonicalName  string         `json:"canonical_name"`
	Aliases        []string       `json:"aliases,omitempty"`
	VisibleProps   map[string]any `json:"visible_props,omitempty"`
	HiddenProps    map[string]any `json:"hidden_props,omitempty"`
	CreatedAtCycle int            `json:"created_at_cycle"`
	UpdatedAtCycle int            `json:"updated_at_cycle"`
}

// EntitySummary is the lightweight index row used for fuzzy resolution and
// the read-side tooltip consumer.
type EntitySummary struct {
	ID            string     `json:"id"`
	Type          EntityType `json:"type"`
	CanonicalName string     `json:"canonical_name"`
	Aliases       []string   `json:"aliases,omitempty"`
}

// Relation links a source entity to a target entity. One relation exists
// per (source, target, type) triple; level stays within [0,10] and romantic
// stage within [0,6]. Relations are never deleted, only superseded.
type Relation struct {
	SourceID       string  `json:"source_id"`
	TargetID       string  `json:"target_id"`
	Type           string  `json:"type"`
	Level          float64 `json:"level"`
	RomanticStage  int     `json:"romantic_stage"`
	Disposition    string  `json:"disposition,omitempty"`
	CreatedAtCycle int     `json:"created_at_cycle"`
	UpdatedAtCycle int     `json:"updated_at_cycle"`
}

const (
	RelationLevelMin = 0.0
	RelationLevelMax = 10.0
	RomanticStageMin = 0
	RomanticStageMax = 6
)

// EventCategory classifies a scheduled or occurred event.
type EventCategory string

const (
	EventSocial    EventCategory = "social"
	EventWork      EventCategory = "work"
	EventPurchase  EventCategory = "purchase"
	EventDiscovery EventCategory = "discovery"
	EventConflict  EventCategory = "conflict"
	EventRomantic  EventCategory = "romantic"
)

// ValidEventCategory reports whether c is a known event category.
func ValidEventCategory(c EventCategory) bool {
	switch c {
	case EventSocial, EventWork, EventPurchase, EventDiscovery, EventConflict, EventRomantic:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of an event. Planned events may become
// cancelled; recorded past events are created as occurred directly.
type EventStatus string

const (
	EventPlanned   EventStatus = "planned"
	EventOccurred  EventStatus = "occurred"
	EventCancelled EventStatus = "cancelled"
)

// Recurrence describes a repeating event schedule.
type Recurrence struct {
	Frequency string `json:"frequency"`
	Weekday   string `json:"weekday,omitempty"`
}

// EntityRef is a loose reference to an entity: resolved references carry an
// ID, unresolved ones only the name as the narrator wrote it.
type EntityRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Event is a planned, occurred, or cancelled world event.
type Event struct {
	ID             string        `json:"id"`
	SessionID      string        `json:"session_id"`
	Title          string        `json:"title"`
	Category       EventCategory `json:"category"`
	Status         EventStatus   `json:"status"`
	ScheduledCycle *int          `json:"scheduled_cycle,omitempty"`
	OccurredCycle  *int          `json:"occurred_cycle,omitempty"`
	Location       string        `json:"location,omitempty"`
	Participants   []EntityRef   `json:"participants,omitempty"`
	Recurrence     *Recurrence   `json:"recurrence,omitempty"`
}

// TransactionType classifies an economy movement.
type TransactionType string

const (
	TxPurchase     TransactionType = "purchase"
	TxSale         TransactionType = "sale"
	TxSalary       TransactionType = "salary"
	TxRent         TransactionType = "rent"
	TxBill         TransactionType = "bill"
	TxFine         TransactionType = "fine"
	TxService      TransactionType = "service"
	TxGiftGiven    TransactionType = "gift_given"
	TxGiftReceived TransactionType = "gift_received"
	TxLoan         TransactionType = "loan"
	TxBorrow       TransactionType = "borrow"
	TxLoanRepaid   TransactionType = "loan_repaid"
	TxLoss         TransactionType = "loss"
	TxForgotten    TransactionType = "forgotten"
	TxTheft        TransactionType = "theft"
	TxDestruction  TransactionType = "destruction"
	TxDamage       TransactionType = "damage"
	TxRepair       TransactionType = "repair"
	TxRelocation   TransactionType = "relocation"
)

// ValidTransactionType reports whether t is a known transaction type.
func ValidTransactionType(t TransactionType) bool {
	switch t {
	case TxPurchase, TxSale, TxSalary, TxRent, TxBill, TxFine, TxService,
		TxGiftGiven, TxGiftReceived, TxLoan, TxBorrow, TxLoanRepaid,
		TxLoss, TxForgotten, TxTheft, TxDestruction, TxDamage, TxRepair,
		TxRelocation:
		return true
	}
	return false
}

// Transaction records one economy movement. Amount is signed: negative
// amounts debit the session's credit balance. A transaction that would
// drive the balance negative is rejected before being persisted.
type Transaction struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Type         TransactionType `json:"type"`
	Amount       int             `json:"amount"`
	Item         string          `json:"item,omitempty"`
	Category     string          `json:"category,omitempty"`
	Counterparty string          `json:"counterparty,omitempty"`
	LocationFrom string          `json:"location_from,omitempty"`
	LocationTo   string          `json:"location_to,omitempty"`
	Cycle        int             `json:"cycle"`
}

// StatGauges holds the protagonist's physiological and mental gauges.
// Each gauge stays within [1,5] and moves only by bounded half-point deltas.
type StatGauges struct {
	Energy float64 `json:"energy"`
	Morale float64 `json:"morale"`
	Health float64 `json:"health"`
}

const (
	GaugeMin = 1.0
	GaugeMax = 5.0
)

// Session is one persistent playthrough with its own world model.
type Session struct {
	ID      string `json:"id"`
	Cycle   int    `json:"cycle"`
	Weekday string `json:"weekday"`
	Credits int    `json:"credits"`
}

// SceneResume is the 2-4 sentence rolling summary of one closed scene.
type SceneResume struct {
	SessionID string `json:"session_id"`
	SceneID   string `json:"scene_id"`
	Cycle     int    `json:"cycle"`
	Resume    string `json:"resume"`
}

// CycleResume is the per-day digest folded from all scene resumes of a
// completed in-world day.
type CycleResume struct {
	SessionID        string   `json:"session_id"`
	Cycle            int      `json:"cycle"`
	Digest           string   `json:"digest"`
	KeyEvents        []string `json:"key_events,omitempty"`
	CharactersMet    []string `json:"characters_met,omitempty"`
	LocationsVisited []string `json:"locations_visited,omitempty"`
	Tone             string   `json:"tone,omitempty"`
}

// Snapshot is the world-model slice loaded once per turn and shared
// read-only across all extraction agents.
type Snapshot struct {
	SessionID     string
	Cycle         int
	Weekday       string
	Credits       int
	Gauges        StatGauges
	Inventory     []EntitySummary
	Relations     []Relation
	EntityIndex   []EntitySummary
	PlannedEvents []Event
}
