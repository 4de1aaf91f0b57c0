package engine

import (
	"context"
	"fmt"

	"fabula/internal/cache"
	"fabula/internal/world"
)

// cached loads one query slice through the read cache. A stale or absent
// entry falls through to loader and the result is stored for the next
// reader.
func cached[T any](c *cache.Cache, key cache.Key, loader func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}
	v, err := loader()
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// loadSnapshot assembles the read-only world slice every agent works
// against. All six queries go through the cache; any individual failure
// fails the whole load because agents cannot reason over a partial world.
func (o *Orchestrator) loadSnapshot(ctx context.Context, sessionID string) (*world.Snapshot, error) {
	session, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindSession}, func() (world.Session, error) {
		return o.store.GetSession(ctx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	gauges, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindStats}, func() (world.StatGauges, error) {
		return o.store.GetGauges(ctx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("gauges: %w", err)
	}

	inventory, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindInventory}, func() ([]world.EntitySummary, error) {
		return o.store.EntityIndexByType(ctx, sessionID, world.EntityItem)
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	relations, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindRelations}, func() ([]world.Relation, error) {
		return o.store.RelationsFrom(ctx, sessionID, world.ProtagonistID)
	})
	if err != nil {
		return nil, fmt.Errorf("relations: %w", err)
	}

	index, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindEntityIndex}, func() ([]world.EntitySummary, error) {
		return o.store.EntityIndex(ctx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("entity index: %w", err)
	}

	planned, err := cached(o.cache, cache.Key{SessionID: sessionID, Kind: cache.KindPlannedEvents}, func() ([]world.Event, error) {
		return o.store.PlannedEvents(ctx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("planned events: %w", err)
	}

	return &world.Snapshot{
		SessionID:     sessionID,
		Cycle:         session.Cycle,
		Weekday:       session.Weekday,
		Credits:       session.Credits,
		Gauges:        gauges,
		Inventory:     inventory,
		Relations:     relations,
		EntityIndex:   index,
		PlannedEvents: planned,
	}, nil
}
