package world

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"fabula/internal/match"
)

// SQLiteStore implements Store on a single sqlite database.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open initializes the sqlite database at path, creating the directory and
// schema as needed.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal_mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			cycle INTEGER NOT NULL DEFAULT 1,
			weekday TEXT NOT NULL DEFAULT 'monday',
			credits INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS stat_gauges (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			energy REAL NOT NULL,
			morale REAL NOT NULL,
			health REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			type TEXT NOT NULL,
			canonical_name TEXT NOT NULL,
			normalized_name TEXT NOT NULL,
			aliases TEXT NOT NULL DEFAULT '[]',
			visible_props TEXT NOT NULL DEFAULT '{}',
			hidden_props TEXT NOT NULL DEFAULT '{}',
			created_at_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at_cycle INTEGER NOT NULL DEFAULT 0,
			UNIQUE(session_id, normalized_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_session_type ON entities(session_id, type)`,
		`CREATE TABLE IF NOT EXISTS relations (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			level REAL NOT NULL,
			romantic_stage INTEGER NOT NULL DEFAULT 0,
			disposition TEXT NOT NULL DEFAULT '',
			created_at_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at_cycle INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, source_id, target_id, type)
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			title TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			scheduled_cycle INTEGER,
			occurred_cycle INTEGER,
			location TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '[]',
			recurrence TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session_status ON events(session_id, status)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			type TEXT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 0,
			item TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			counterparty TEXT NOT NULL DEFAULT '',
			location_from TEXT NOT NULL DEFAULT '',
			location_to TEXT NOT NULL DEFAULT '',
			cycle INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scene_resumes (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			scene_id TEXT NOT NULL,
			cycle INTEGER NOT NULL,
			resume TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (session_id, scene_id)
		)`,
		`CREATE TABLE IF NOT EXISTS cycle_resumes (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			cycle INTEGER NOT NULL,
			digest TEXT NOT NULL,
			key_events TEXT NOT NULL DEFAULT '[]',
			characters_met TEXT NOT NULL DEFAULT '[]',
			locations_visited TEXT NOT NULL DEFAULT '[]',
			tone TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (session_id, cycle)
		)`,
		`CREATE TABLE IF NOT EXISTS extraction_runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			cycle INTEGER NOT NULL,
			success INTEGER NOT NULL,
			agents_ok INTEGER NOT NULL DEFAULT 0,
			agents_failed INTEGER NOT NULL DEFAULT 0,
			created_ops INTEGER NOT NULL DEFAULT 0,
			modified_ops INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			detail TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func marshalJSON(v any) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// --- sessions ---

// CreateSession inserts a new session with its gauge row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, cycle, weekday, credits) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Cycle, sess.Weekday, sess.Credits); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stat_gauges (session_id, energy, morale, health) VALUES (?, 3, 3, 3)`,
		sess.ID); err != nil {
		return fmt.Errorf("failed to create gauges: %w", err)
	}
	return tx.Commit()
}

// GetSession loads one session.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, cycle, weekday, credits FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Cycle, &sess.Weekday, &sess.Credits)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	return sess, nil
}

// AdvanceCycle moves the session to a new cycle and weekday.
func (s *SQLiteStore) AdvanceCycle(ctx context.Context, id string, cycle int, weekday string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET cycle = ?, weekday = ? WHERE id = ?`, cycle, weekday, id)
	if err != nil {
		return fmt.Errorf("failed to advance cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- gauges ---

// GetGauges loads the session's stat gauges.
func (s *SQLiteStore) GetGauges(ctx context.Context, sessionID string) (StatGauges, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var g StatGauges
	err := s.db.QueryRowContext(ctx,
		`SELECT energy, morale, health FROM stat_gauges WHERE session_id = ?`, sessionID).
		Scan(&g.Energy, &g.Morale, &g.Health)
	if errors.Is(err, sql.ErrNoRows) {
		return StatGauges{}, fmt.Errorf("gauges for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return StatGauges{}, fmt.Errorf("failed to load gauges: %w", err)
	}
	return g, nil
}

// SetGauges overwrites the session's stat gauges.
func (s *SQLiteStore) SetGauges(ctx context.Context, sessionID string, g StatGauges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE stat_gauges SET energy = ?, morale = ?, health = ? WHERE session_id = ?`,
		g.Energy, g.Morale, g.Health, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update gauges: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("gauges for %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// --- entities ---

// CreateEntity inserts a new entity. A normalized-name collision within the
// session yields ErrDuplicateEntity. Aliases colliding with another entity's
// canonical name are skipped, same as on merge.
func (s *SQLiteStore) CreateEntity(ctx context.Context, e Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := match.Normalize(e.CanonicalName)

	var aliases []string
	seen := map[string]bool{normalized: true}
	for _, a := range e.Aliases {
		na := match.Normalize(a)
		if na == "" || seen[na] {
			continue
		}
		taken, err := s.nameTakenByOther(ctx, e.SessionID, e.ID, na)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		aliases = append(aliases, a)
		seen[na] = true
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, session_id, type, canonical_name, normalized_name,
			aliases, visible_props, hidden_props, created_at_cycle, updated_at_cycle)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.Type), e.CanonicalName, normalized,
		marshalJSON(stringsOrEmpty(aliases)), marshalJSON(mapOrEmpty(e.VisibleProps)),
		marshalJSON(mapOrEmpty(e.HiddenProps)), e.CreatedAtCycle, e.UpdatedAtCycle)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%q: %w", e.CanonicalName, ErrDuplicateEntity)
		}
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

// GetEntity loads one entity.
func (s *SQLiteStore) GetEntity(ctx context.Context, sessionID, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getEntityLocked(ctx, sessionID, id)
}

func (s *SQLiteStore) getEntityLocked(ctx context.Context, sessionID, id string) (Entity, error) {
	var e Entity
	var aliases, visible, hidden string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, type, canonical_name, aliases, visible_props, hidden_props,
			created_at_cycle, updated_at_cycle
		 FROM entities WHERE session_id = ? AND id = ?`, sessionID, id).
		Scan(&e.ID, &e.SessionID, &e.Type, &e.CanonicalName, &aliases, &visible, &hidden,
			&e.CreatedAtCycle, &e.UpdatedAtCycle)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Entity{}, fmt.Errorf("failed to load entity: %w", err)
	}
	if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
		return Entity{}, fmt.Errorf("corrupt aliases for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(visible), &e.VisibleProps); err != nil {
		return Entity{}, fmt.Errorf("corrupt visible props for %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(hidden), &e.HiddenProps); err != nil {
		return Entity{}, fmt.Errorf("corrupt hidden props for %s: %w", id, err)
	}
	return e, nil
}

// MergeEntity merges new facts into an entity: prop keys are added or
// overwritten, never deleted; aliases are unioned, skipping any alias that
// collides with another entity's canonical name.
func (s *SQLiteStore) MergeEntity(ctx context.Context, sessionID, id string, visible, hidden map[string]any, aliases []string, cycle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getEntityLocked(ctx, sessionID, id)
	if err != nil {
		return err
	}

	if e.VisibleProps == nil {
		e.VisibleProps = map[string]any{}
	}
	for k, v := range visible {
		e.VisibleProps[k] = v
	}
	if e.HiddenProps == nil {
		e.HiddenProps = map[string]any{}
	}
	for k, v := range hidden {
		e.HiddenProps[k] = v
	}

	existing := make(map[string]bool, len(e.Aliases)+1)
	existing[match.Normalize(e.CanonicalName)] = true
	for _, a := range e.Aliases {
		existing[match.Normalize(a)] = true
	}
	for _, a := range aliases {
		na := match.Normalize(a)
		if na == "" || existing[na] {
			continue
		}
		taken, err := s.nameTakenByOther(ctx, sessionID, id, na)
		if err != nil {
			return err
		}
		if taken {
			continue
		}
		e.Aliases = append(e.Aliases, a)
		existing[na] = true
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE entities SET aliases = ?, visible_props = ?, hidden_props = ?, updated_at_cycle = ?
		 WHERE session_id = ? AND id = ?`,
		marshalJSON(stringsOrEmpty(e.Aliases)), marshalJSON(e.VisibleProps),
		marshalJSON(e.HiddenProps), cycle, sessionID, id)
	if err != nil {
		return fmt.Errorf("failed to merge entity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) nameTakenByOther(ctx context.Context, sessionID, id, normalized string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM entities WHERE session_id = ? AND normalized_name = ? AND id != ?`,
		sessionID, normalized, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check name collision: %w", err)
	}
	return count > 0, nil
}

// EntityIndex returns the lightweight summary of every entity in a session.
func (s *SQLiteStore) EntityIndex(ctx context.Context, sessionID string) ([]EntitySummary, error) {
	return s.entityIndexWhere(ctx,
		`SELECT id, type, canonical_name, aliases FROM entities WHERE session_id = ? ORDER BY canonical_name`,
		sessionID)
}

// EntityIndexByType returns the summary of entities of one type.
func (s *SQLiteStore) EntityIndexByType(ctx context.Context, sessionID string, t EntityType) ([]EntitySummary, error) {
	return s.entityIndexWhere(ctx,
		`SELECT id, type, canonical_name, aliases FROM entities WHERE session_id = ? AND type = ? ORDER BY canonical_name`,
		sessionID, string(t))
}

func (s *SQLiteStore) entityIndexWhere(ctx context.Context, query string, args ...any) ([]EntitySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity index: %w", err)
	}
	defer rows.Close()

	var index []EntitySummary
	for rows.Next() {
		var (
			e       EntitySummary
			aliases string
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.CanonicalName, &aliases); err != nil {
			return nil, fmt.Errorf("failed to scan entity row: %w", err)
		}
		if err := json.Unmarshal([]byte(aliases), &e.Aliases); err != nil {
			return nil, fmt.Errorf("corrupt aliases for %s: %w", e.ID, err)
		}
		index = append(index, e)
	}
	return index, rows.Err()
}

// --- relations ---

// GetRelation loads one relation by its (source, target, type) triple.
func (s *SQLiteStore) GetRelation(ctx context.Context, sessionID, sourceID, targetID, relType string) (Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r Relation
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, target_id, type, level, romantic_stage, disposition,
			created_at_cycle, updated_at_cycle
		 FROM relations WHERE session_id = ? AND source_id = ? AND target_id = ? AND type = ?`,
		sessionID, sourceID, targetID, relType).
		Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Level, &r.RomanticStage, &r.Disposition,
			&r.CreatedAtCycle, &r.UpdatedAtCycle)
	if errors.Is(err, sql.ErrNoRows) {
		return Relation{}, fmt.Errorf("relation %s->%s (%s): %w", sourceID, targetID, relType, ErrNotFound)
	}
	if err != nil {
		return Relation{}, fmt.Errorf("failed to load relation: %w", err)
	}
	return r, nil
}

// ModifyRelation applies a delta and optional disposition/romantic stage to
// a relation, creating it lazily on first touch. The level is clamped to
// [0,10] regardless of delta magnitude or sign.
func (s *SQLiteStore) ModifyRelation(ctx context.Context, sessionID, sourceID, targetID, relType string, delta *float64, disposition string, romanticStage *int, cycle int) (Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var r Relation
	err := s.db.QueryRowContext(ctx,
		`SELECT source_id, target_id, type, level, romantic_stage, disposition,
			created_at_cycle, updated_at_cycle
		 FROM relations WHERE session_id = ? AND source_id = ? AND target_id = ? AND type = ?`,
		sessionID, sourceID, targetID, relType).
		Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Level, &r.RomanticStage, &r.Disposition,
			&r.CreatedAtCycle, &r.UpdatedAtCycle)

	created := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		created = true
		r = Relation{
			SourceID:       sourceID,
			TargetID:       targetID,
			Type:           relType,
			Level:          DefaultRelationLevel,
			CreatedAtCycle: cycle,
		}
	case err != nil:
		return Relation{}, fmt.Errorf("failed to load relation: %w", err)
	}

	if delta != nil {
		r.Level = clamp(r.Level+*delta, RelationLevelMin, RelationLevelMax)
	}
	if disposition != "" {
		r.Disposition = disposition
	}
	if romanticStage != nil {
		r.RomanticStage = *romanticStage
	}
	r.UpdatedAtCycle = cycle

	if created {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO relations (session_id, source_id, target_id, type, level,
				romantic_stage, disposition, created_at_cycle, updated_at_cycle)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, r.SourceID, r.TargetID, r.Type, r.Level,
			r.RomanticStage, r.Disposition, r.CreatedAtCycle, r.UpdatedAtCycle)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE relations SET level = ?, romantic_stage = ?, disposition = ?, updated_at_cycle = ?
			 WHERE session_id = ? AND source_id = ? AND target_id = ? AND type = ?`,
			r.Level, r.RomanticStage, r.Disposition, r.UpdatedAtCycle,
			sessionID, r.SourceID, r.TargetID, r.Type)
	}
	if err != nil {
		return Relation{}, fmt.Errorf("failed to write relation: %w", err)
	}
	return r, nil
}

// RelationsFrom returns every relation originating at sourceID.
func (s *SQLiteStore) RelationsFrom(ctx context.Context, sessionID, sourceID string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, target_id, type, level, romantic_stage, disposition,
			created_at_cycle, updated_at_cycle
		 FROM relations WHERE session_id = ? AND source_id = ? ORDER BY target_id`,
		sessionID, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var relations []Relation
	for rows.Next() {
		var r Relation
		if err := rows.Scan(&r.SourceID, &r.TargetID, &r.Type, &r.Level, &r.RomanticStage,
			&r.Disposition, &r.CreatedAtCycle, &r.UpdatedAtCycle); err != nil {
			return nil, fmt.Errorf("failed to scan relation row: %w", err)
		}
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

// --- events ---

// CreateEvent inserts an event in whatever status it carries.
func (s *SQLiteStore) CreateEvent(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recurrence any
	if e.Recurrence != nil {
		recurrence = marshalJSON(e.Recurrence)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, session_id, title, category, status, scheduled_cycle,
			occurred_cycle, location, participants, recurrence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, e.Title, string(e.Category), string(e.Status),
		e.ScheduledCycle, e.OccurredCycle, e.Location,
		marshalJSON(refsOrEmpty(e.Participants)), recurrence)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// PlannedEvents returns the session's future (still planned) events.
func (s *SQLiteStore) PlannedEvents(ctx context.Context, sessionID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, title, category, status, scheduled_cycle, occurred_cycle,
			location, participants, recurrence
		 FROM events WHERE session_id = ? AND status = ? ORDER BY scheduled_cycle`,
		sessionID, string(EventPlanned))
	if err != nil {
		return nil, fmt.Errorf("failed to query planned events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e            Event
			participants string
			recurrence   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Title, &e.Category, &e.Status,
			&e.ScheduledCycle, &e.OccurredCycle, &e.Location, &participants, &recurrence); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
			return nil, fmt.Errorf("corrupt participants for %s: %w", e.ID, err)
		}
		if recurrence.Valid && recurrence.String != "" {
			var rec Recurrence
			if err := json.Unmarshal([]byte(recurrence.String), &rec); err != nil {
				return nil, fmt.Errorf("corrupt recurrence for %s: %w", e.ID, err)
			}
			e.Recurrence = &rec
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CancelEvent transitions a planned event to cancelled. Events already
// occurred or cancelled never match.
func (s *SQLiteStore) CancelEvent(ctx context.Context, sessionID, eventID string, cycle int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET status = ?, occurred_cycle = NULL
		 WHERE session_id = ? AND id = ? AND status = ?`,
		string(EventCancelled), sessionID, eventID, string(EventPlanned))
	if err != nil {
		return fmt.Errorf("failed to cancel event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("planned event %s: %w", eventID, ErrNotFound)
	}
	return nil
}

// --- transactions ---

// ApplyTransaction inserts the transaction and moves the session's credit
// balance in one database transaction. A movement that would drive the
// balance negative returns ErrInsufficientCredits and changes nothing.
func (s *SQLiteStore) ApplyTransaction(ctx context.Context, t Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbtx.Rollback()

	var credits int
	err = dbtx.QueryRowContext(ctx,
		`SELECT credits FROM sessions WHERE id = ?`, t.SessionID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %s: %w", t.SessionID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load balance: %w", err)
	}

	balance := credits + t.Amount
	if balance < 0 {
		return credits, fmt.Errorf("%s of %d against balance %d: %w",
			t.Type, t.Amount, credits, ErrInsufficientCredits)
	}

	if _, err := dbtx.ExecContext(ctx,
		`INSERT INTO transactions (id, session_id, type, amount, item, category,
			counterparty, location_from, location_to, cycle)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, string(t.Type), t.Amount, t.Item, t.Category,
		t.Counterparty, t.LocationFrom, t.LocationTo, t.Cycle); err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	if _, err := dbtx.ExecContext(ctx,
		`UPDATE sessions SET credits = ? WHERE id = ?`, balance, t.SessionID); err != nil {
		return 0, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// Transactions returns the session's ledger in posting order.
func (s *SQLiteStore) Transactions(ctx context.Context, sessionID string) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, type, amount, item, category, counterparty,
			location_from, location_to, cycle
		 FROM transactions WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Type, &t.Amount, &t.Item, &t.Category,
			&t.Counterparty, &t.LocationFrom, &t.LocationTo, &t.Cycle); err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// --- resumes ---

// SaveSceneResume upserts the rolling summary of one scene.
func (s *SQLiteStore) SaveSceneResume(ctx context.Context, r SceneResume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scene_resumes (session_id, scene_id, cycle, resume)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id, scene_id) DO UPDATE SET resume = excluded.resume, cycle = excluded.cycle`,
		r.SessionID, r.SceneID, r.Cycle, r.Resume)
	if err != nil {
		return fmt.Errorf("failed to save scene resume: %w", err)
	}
	return nil
}

// SceneResumes returns the scene resumes of one cycle in insertion order.
func (s *SQLiteStore) SceneResumes(ctx context.Context, sessionID string, cycle int) ([]SceneResume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, scene_id, cycle, resume FROM scene_resumes
		 WHERE session_id = ? AND cycle = ? ORDER BY created_at, scene_id`,
		sessionID, cycle)
	if err != nil {
		return nil, fmt.Errorf("failed to query scene resumes: %w", err)
	}
	defer rows.Close()

	var resumes []SceneResume
	for rows.Next() {
		var r SceneResume
		if err := rows.Scan(&r.SessionID, &r.SceneID, &r.Cycle, &r.Resume); err != nil {
			return nil, fmt.Errorf("failed to scan scene resume: %w", err)
		}
		resumes = append(resumes, r)
	}
	return resumes, rows.Err()
}

// SaveCycleResume upserts the day digest of one cycle.
func (s *SQLiteStore) SaveCycleResume(ctx context.Context, r CycleResume) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cycle_resumes (session_id, cycle, digest, key_events, characters_met, locations_visited, tone)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, cycle) DO UPDATE SET
			digest = excluded.digest, key_events = excluded.key_events,
			characters_met = excluded.characters_met,
			locations_visited = excluded.locations_visited, tone = excluded.tone`,
		r.SessionID, r.Cycle, r.Digest, marshalJSON(stringsOrEmpty(r.KeyEvents)),
		marshalJSON(stringsOrEmpty(r.CharactersMet)), marshalJSON(stringsOrEmpty(r.LocationsVisited)), r.Tone)
	if err != nil {
		return fmt.Errorf("failed to save cycle resume: %w", err)
	}
	return nil
}

// --- run metrics ---

// RecordRun persists the metrics record of one extraction run.
func (s *SQLiteStore) RecordRun(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var detail any
	if len(run.Detail) > 0 {
		detail = string(run.Detail)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_runs (id, session_id, cycle, success, agents_ok, agents_failed,
			created_ops, modified_ops, errors, duration_ms, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Cycle, boolToInt(run.Success), run.AgentsOK, run.AgentsFail,
		run.Created, run.Modified, marshalJSON(stringsOrEmpty(run.Errors)), run.DurationMS, detail)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LatestRun returns the most recent extraction run of a session.
func (s *SQLiteStore) LatestRun(ctx context.Context, sessionID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		run     RunRecord
		success int
		errList string
		detail  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, cycle, success, agents_ok, agents_failed, created_ops,
			modified_ops, errors, duration_ms, detail, created_at
		 FROM extraction_runs WHERE session_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, sessionID).
		Scan(&run.ID, &run.SessionID, &run.Cycle, &success, &run.AgentsOK, &run.AgentsFail,
			&run.Created, &run.Modified, &errList, &run.DurationMS, &detail, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("runs for %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to load latest run: %w", err)
	}
	run.Success = success != 0
	if err := json.Unmarshal([]byte(errList), &run.Errors); err != nil {
		return RunRecord{}, fmt.Errorf("corrupt error list for run %s: %w", run.ID, err)
	}
	if detail.Valid {
		run.Detail = json.RawMessage(detail.String)
	}
	return run, nil
}

// --- helpers ---

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func refsOrEmpty(refs []EntityRef) []EntityRef {
	if refs == nil {
		return []EntityRef{}
	}
	return refs
}

// isUniqueViolation matches sqlite's UNIQUE constraint error without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
