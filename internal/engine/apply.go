package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fabula/internal/cache"
	"fabula/internal/match"
	"fabula/internal/ops"
	"fabula/internal/world"
)

// applyBatch writes the validated batch to the store in dependency order:
// entities first so later references can resolve against them, then
// relations, events, transactions, and finally stat gauges. Each write
// stands alone; a failed one is recorded in metrics and the rest continue.
// The returned set names the cache kinds whose slices were mutated.
func (o *Orchestrator) applyBatch(ctx context.Context, snap *world.Snapshot, batch ops.Batch, metrics *Metrics) map[string]bool {
	touched := make(map[string]bool)
	records := entityRecords(snap.EntityIndex)

	records = o.applyEntities(ctx, snap, batch, records, metrics, touched)
	o.applyRelations(ctx, snap, batch.RelationModifies, records, metrics, touched)
	o.applyEvents(ctx, snap, batch, records, metrics, touched)
	o.applyTransactions(ctx, snap, batch.Transactions, records, metrics, touched)
	o.applyGauges(ctx, snap, batch.StatDeltas, metrics, touched)

	return touched
}

func entityRecords(index []world.EntitySummary) []match.Record {
	records := make([]match.Record, 0, len(index))
	for _, e := range index {
		records = append(records, match.Record{
			ID:    e.ID,
			Names: append([]string{e.CanonicalName}, e.Aliases...),
		})
	}
	return records
}

// applyEntities handles creates and modifies. A create whose name resolves
// to an existing entity becomes a merge instead of a duplicate row; the
// records slice grows with every genuine create so later operations in the
// same turn can reference the new entity.
func (o *Orchestrator) applyEntities(ctx context.Context, snap *world.Snapshot, batch ops.Batch, records []match.Record, metrics *Metrics, touched map[string]bool) []match.Record {
	for _, op := range batch.EntityCreates {
		if m, ok := o.resolver.Resolve(op.Name, records); ok {
			err := o.store.MergeEntity(ctx, snap.SessionID, m.ID, op.Visible, op.Hidden, op.Aliases, snap.Cycle)
			if err != nil {
				metrics.Errors = append(metrics.Errors, fmt.Sprintf("entity merge %q: %v", op.Name, err))
				continue
			}
			metrics.Modified["entities"]++
			o.markEntityTouched(world.EntityType(op.Type), touched)
			continue
		}

		entity := world.Entity{
			ID:             uuid.NewString(),
			SessionID:      snap.SessionID,
			Type:           world.EntityType(op.Type),
			CanonicalName:  op.Name,
			Aliases:        op.Aliases,
			VisibleProps:   op.Visible,
			HiddenProps:    op.Hidden,
			CreatedAtCycle: snap.Cycle,
			UpdatedAtCycle: snap.Cycle,
		}
		if err := o.store.CreateEntity(ctx, entity); err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("entity create %q: %v", op.Name, err))
			continue
		}
		metrics.Created["entities"]++
		records = append(records, match.Record{
			ID:    entity.ID,
			Names: append([]string{entity.CanonicalName}, entity.Aliases...),
		})
		o.markEntityTouched(entity.Type, touched)
	}

	for _, op := range batch.EntityModifies {
		m, ok := o.resolver.Resolve(op.Name, records)
		if !ok {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("entity modify: unresolved reference %q", op.Name))
			continue
		}
		err := o.store.MergeEntity(ctx, snap.SessionID, m.ID, op.Visible, op.Hidden, op.Aliases, snap.Cycle)
		if err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("entity modify %q: %v", op.Name, err))
			continue
		}
		metrics.Modified["entities"]++
		touched[cache.KindEntityIndex] = true
		touched[cache.KindInventory] = true
	}

	return records
}

func (o *Orchestrator) markEntityTouched(t world.EntityType, touched map[string]bool) {
	touched[cache.KindEntityIndex] = true
	if t == world.EntityItem {
		touched[cache.KindInventory] = true
	}
}

// applyRelations adjusts protagonist relations. The character reference is
// resolved fuzzily against the full entity index, including entities
// created earlier in this same batch.
func (o *Orchestrator) applyRelations(ctx context.Context, snap *world.Snapshot, mods []ops.RelationModify, records []match.Record, metrics *Metrics, touched map[string]bool) {
	for _, op := range mods {
		m, ok := o.resolver.Resolve(op.Character, records)
		if !ok {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("relation: unresolved character %q", op.Character))
			continue
		}
		relType := op.Type
		if relType == "" {
			relType = "knows"
		}
		_, err := o.store.ModifyRelation(ctx, snap.SessionID, world.ProtagonistID, m.ID, relType, op.Delta, op.Disposition, op.RomanticStage, snap.Cycle)
		if err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("relation %q: %v", op.Character, err))
			continue
		}
		metrics.Modified["relations"]++
		touched[cache.KindRelations] = true
	}
}

// applyEvents records past events, plans future ones, and cancels planned
// ones. Cancels resolve fuzzily against the planned set only; participants
// resolve best-effort and keep the written name when nothing matches.
func (o *Orchestrator) applyEvents(ctx context.Context, snap *world.Snapshot, batch ops.Batch, records []match.Record, metrics *Metrics, touched map[string]bool) {
	for _, op := range batch.EventRecords {
		occurred := snap.Cycle
		event := world.Event{
			ID:            uuid.NewString(),
			SessionID:     snap.SessionID,
			Title:         op.Title,
			Category:      world.EventCategory(op.Category),
			Status:        world.EventOccurred,
			OccurredCycle: &occurred,
			Location:      op.Location,
			Participants:  o.resolveParticipants(op.Participants, records),
		}
		if err := o.store.CreateEvent(ctx, event); err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("event record %q: %v", op.Title, err))
			continue
		}
		metrics.Created["events"]++
	}

	for _, op := range batch.EventPlans {
		event := world.Event{
			ID:             uuid.NewString(),
			SessionID:      snap.SessionID,
			Title:          op.Title,
			Category:       world.EventCategory(op.Category),
			Status:         world.EventPlanned,
			ScheduledCycle: op.ScheduledCycle,
			Location:       op.Location,
			Participants:   o.resolveParticipants(op.Participants, records),
			Recurrence:     op.Recurrence,
		}
		if err := o.store.CreateEvent(ctx, event); err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("event plan %q: %v", op.Title, err))
			continue
		}
		metrics.Created["events"]++
		touched[cache.KindPlannedEvents] = true
	}

	planned := make([]match.Record, 0, len(snap.PlannedEvents))
	for _, e := range snap.PlannedEvents {
		planned = append(planned, match.Record{ID: e.ID, Names: []string{e.Title}})
	}
	for _, op := range batch.EventCancels {
		m, ok := o.resolver.Resolve(op.Title, planned)
		if !ok {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("event cancel: no planned event matching %q", op.Title))
			continue
		}
		if err := o.store.CancelEvent(ctx, snap.SessionID, m.ID, snap.Cycle); err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("event cancel %q: %v", op.Title, err))
			continue
		}
		metrics.Modified["events"]++
		touched[cache.KindPlannedEvents] = true
	}
}

func (o *Orchestrator) resolveParticipants(names []string, records []match.Record) []world.EntityRef {
	if len(names) == 0 {
		return nil
	}
	refs := make([]world.EntityRef, 0, len(names))
	for _, name := range names {
		ref := world.EntityRef{Name: name}
		if m, ok := o.resolver.Resolve(name, records); ok {
			ref.ID = m.ID
		}
		refs = append(refs, ref)
	}
	return refs
}

// applyTransactions posts each movement individually. Item and counterparty
// references resolve best-effort onto known entities so a loosely worded
// name maps to the existing record; unmatched names stay as written. An
// overdraw is a business-rule rejection recorded like any other
// per-operation error; later transactions still apply against whatever the
// balance actually is.
func (o *Orchestrator) applyTransactions(ctx context.Context, snap *world.Snapshot, txs []ops.Transaction, records []match.Record, metrics *Metrics, touched map[string]bool) {
	canonical := make(map[string]string, len(records))
	for _, r := range records {
		if len(r.Names) > 0 {
			canonical[r.ID] = r.Names[0]
		}
	}
	resolveName := func(name string) string {
		if name == "" {
			return name
		}
		if m, ok := o.resolver.Resolve(name, records); ok {
			if cn := canonical[m.ID]; cn != "" {
				return cn
			}
		}
		return name
	}

	for _, op := range txs {
		tx := world.Transaction{
			ID:           uuid.NewString(),
			SessionID:    snap.SessionID,
			Type:         world.TransactionType(op.Type),
			Amount:       op.Amount,
			Item:         resolveName(op.Item),
			Category:     op.Category,
			Counterparty: resolveName(op.Counterparty),
			LocationFrom: op.LocationFrom,
			LocationTo:   op.LocationTo,
			Cycle:        snap.Cycle,
		}
		balance, err := o.store.ApplyTransaction(ctx, tx)
		if errors.Is(err, world.ErrInsufficientCredits) {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("transaction %s %d rejected: %v", op.Type, op.Amount, err))
			continue
		}
		if err != nil {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("transaction %s: %v", op.Type, err))
			continue
		}
		metrics.Created["transactions"]++
		touched[cache.KindSession] = true
		o.logger.Debug("transaction applied",
			zap.String("type", op.Type),
			zap.Int("amount", op.Amount),
			zap.Int("balance", balance))
	}
}

// applyGauges moves each gauge independently. A delta that would leave its
// gauge outside the legal range is discarded for that gauge alone, never
// clamped; the other gauges still move.
func (o *Orchestrator) applyGauges(ctx context.Context, snap *world.Snapshot, deltas *ops.StatDeltas, metrics *Metrics, touched map[string]bool) {
	if deltas == nil || deltas.Empty() {
		return
	}

	next := snap.Gauges
	moved := false
	apply := func(name string, current, delta float64, set func(float64)) {
		if delta == 0 {
			return
		}
		v := current + delta
		if v < world.GaugeMin || v > world.GaugeMax {
			metrics.Errors = append(metrics.Errors, fmt.Sprintf("gauge %s: delta %+.1f would leave %.1f, discarded", name, delta, v))
			return
		}
		set(v)
		moved = true
	}
	apply("energy", next.Energy, deltas.Energy, func(v float64) { next.Energy = v })
	apply("morale", next.Morale, deltas.Morale, func(v float64) { next.Morale = v })
	apply("health", next.Health, deltas.Health, func(v float64) { next.Health = v })

	if !moved {
		return
	}
	if err := o.store.SetGauges(ctx, snap.SessionID, next); err != nil {
		metrics.Errors = append(metrics.Errors, "gauges: "+err.Error())
		return
	}
	metrics.Modified["gauges"]++
	touched[cache.KindStats] = true
}
