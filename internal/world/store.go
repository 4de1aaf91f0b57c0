package world

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ProtagonistID is the fixed source id of the player's relations. The
// protagonist is not an entity row; only other characters are.
const ProtagonistID = "protagonist"

// DefaultRelationLevel seeds a relation created lazily by its first modify
// operation, before the delta applies.
const DefaultRelationLevel = 5.0

var (
	// ErrNotFound signals a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientCredits signals a transaction that would drive the
	// session's balance negative; it is rejected, never clamped.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrDuplicateEntity signals a create colliding with an existing
	// normalized canonical name.
	ErrDuplicateEntity = errors.New("entity with this name already exists")
)

// RunRecord is the persisted metrics record of one extraction run.
type RunRecord struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Cycle      int             `json:"cycle"`
	Success    bool            `json:"success"`
	AgentsOK   int             `json:"agents_ok"`
	AgentsFail int             `json:"agents_failed"`
	Created    int             `json:"created_ops"`
	Modified   int             `json:"modified_ops"`
	Errors     []string        `json:"errors,omitempty"`
	DurationMS int64           `json:"duration_ms"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store is the adapter mutating durable world-model state. Each call is
// individually atomic against the backing store; no call spans another in
// one transaction, so a batch may apply partially and report per-operation
// errors instead of rolling back.
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	AdvanceCycle(ctx context.Context, id string, cycle int, weekday string) error

	GetGauges(ctx context.Context, sessionID string) (StatGauges, error)
	SetGauges(ctx context.Context, sessionID string, g StatGauges) error

	CreateEntity(ctx context.Context, e Entity) error
	GetEntity(ctx context.Context, sessionID, id string) (Entity, error)
	MergeEntity(ctx context.Context, sessionID, id string, visible, hidden map[string]any, aliases []string, cycle int) error
	EntityIndex(ctx context.Context, sessionID string) ([]EntitySummary, error)
	EntityIndexByType(ctx context.Context, sessionID string, t EntityType) ([]EntitySummary, error)

	GetRelation(ctx context.Context, sessionID, sourceID, targetID, relType string) (Relation, error)
	ModifyRelation(ctx context.Context, sessionID, sourceID, targetID, relType string, delta *float64, disposition string, romanticStage *int, cycle int) (Relation, error)
	RelationsFrom(ctx context.Context, sessionID, sourceID string) ([]Relation, error)

	CreateEvent(ctx context.Context, e Event) error
	PlannedEvents(ctx context.Context, sessionID string) ([]Event, error)
	CancelEvent(ctx context.Context, sessionID, eventID string, cycle int) error

	ApplyTransaction(ctx context.Context, tx Transaction) (int, error)
	Transactions(ctx context.Context, sessionID string) ([]Transaction, error)

	SaveSceneResume(ctx context.Context, r SceneResume) error
	SceneResumes(ctx context.Context, sessionID string, cycle int) ([]SceneResume, error)
	SaveCycleResume(ctx context.Context, r CycleResume) error

	RecordRun(ctx context.Context, run RunRecord) error
	LatestRun(ctx context.Context, sessionID string) (RunRecord, error)
}
