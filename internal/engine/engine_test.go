package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fabula/internal/cache"
	"fabula/internal/ops"
	"fabula/internal/world"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// fakeClient routes completions to canned responses by recognizing each
// agent's instruction. Unset fields default to neutral payloads so a test
// only scripts the agents it cares about.
type fakeClient struct {
	resume       string
	stats        string
	transactions string
	entities     string
	events       string
	cycle        string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		resume:       `{"resume": "Nothing notable happened."}`,
		stats:        `{"energy": 0, "morale": 0, "health": 0}`,
		transactions: `{"transactions": []}`,
		entities:     `{"entities": [], "relations": []}`,
		events:       `{"events": []}`,
		cycle:        `{"digest": "A quiet day.", "tone": "calm"}`,
	}
}

func (c *fakeClient) Complete(_ context.Context, system, _ string) (string, error) {
	switch {
	case strings.Contains(system, "summarize one scene"):
		return c.resume, nil
	case strings.Contains(system, "protagonist's gauges"):
		return c.stats, nil
	case strings.Contains(system, "economy of a life simulation"):
		return c.transactions, nil
	case strings.Contains(system, "cast and setting"):
		return c.entities, nil
	case strings.Contains(system, "end-of-day digest"):
		return c.cycle, nil
	case strings.Contains(system, "track events"):
		return c.events, nil
	}
	return "", nil
}

type testEnv struct {
	orch   *Orchestrator
	store  *world.SQLiteStore
	cache  *cache.Cache
	client *fakeClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := world.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.New(time.Minute)
	client := newFakeClient()
	orch := New(store, c, client, Options{AgentTimeout: 5 * time.Second})
	return &testEnv{orch: orch, store: store, cache: c, client: client}
}

func (e *testEnv) newSession(t *testing.T, credits int) world.Session {
	t.Helper()
	sess := world.Session{ID: uuid.NewString(), Cycle: 10, Weekday: "tuesday", Credits: credits}
	require.NoError(t, e.store.CreateSession(context.Background(), sess))
	return sess
}

func TestExtractTurnPurchase(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	env.client.resume = `{"resume": "Bought a sandwich at the corner deli and ate it on a bench."}`
	env.client.transactions = `{"transactions": [{"type": "purchase", "amount": -15, "item": "sandwich", "category": "food", "counterparty": "corner deli"}]}`
	env.client.entities = `{"entities": [{"action": "create", "type": "item", "name": "sandwich"}], "relations": []}`

	summary, err := env.orch.ExtractTurn(ctx, Input{
		SessionID: sess.ID,
		Narrative: "I grabbed a sandwich at the corner deli for 15 credits.",
		SceneID:   "scene-1",
	})
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 5, len(summary.Metrics.Agents))
	assert.Equal(t, 5, summary.Metrics.agentsOK())
	assert.Contains(t, summary.Resume, "sandwich")

	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, got.Credits)

	gauges, err := env.store.GetGauges(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, world.StatGauges{Energy: 3, Morale: 3, Health: 3}, gauges)

	items, err := env.store.EntityIndexByType(ctx, sess.ID, world.EntityItem)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "sandwich", items[0].CanonicalName)

	resumes, err := env.store.SceneResumes(ctx, sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, resumes, 1)
	assert.Equal(t, "scene-1", resumes[0].SceneID)

	run, err := env.store.LatestRun(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, run.Success)
	assert.Equal(t, 5, run.AgentsOK)
}

func TestExtractTurnSurvivesOneBadAgent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	env.client.entities = "the deli was nice, I guess?"
	env.client.transactions = `{"transactions": [{"type": "purchase", "amount": -15, "item": "sandwich", "category": "food"}]}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Lunch."})
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 4, summary.Metrics.agentsOK())
	assert.Equal(t, 1, summary.Metrics.agentsFailed())

	var found bool
	for _, e := range summary.Metrics.Errors {
		if strings.HasPrefix(e, "agent entity:") {
			found = true
		}
	}
	assert.True(t, found, "expected an entity agent error in %v", summary.Metrics.Errors)

	// The other agents' work still landed.
	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 85, got.Credits)
}

func TestExtractTurnRelationDeltaIsCumulative(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	require.NoError(t, env.store.CreateEntity(ctx, world.Entity{
		ID: "nora", SessionID: sess.ID, Type: world.EntityCharacter,
		CanonicalName: "Nora Lindqvist", Aliases: []string{"Nora"},
	}))

	env.client.entities = `{"entities": [], "relations": [{"character": "Nora", "delta": 1}]}`

	_, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "A good chat with Nora."})
	require.NoError(t, err)
	rel, err := env.store.GetRelation(ctx, sess.ID, world.ProtagonistID, "nora", "knows")
	require.NoError(t, err)
	assert.Equal(t, world.DefaultRelationLevel+1, rel.Level)

	_, err = env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Another good chat."})
	require.NoError(t, err)
	rel, err = env.store.GetRelation(ctx, sess.ID, world.ProtagonistID, "nora", "knows")
	require.NoError(t, err)
	assert.Equal(t, world.DefaultRelationLevel+2, rel.Level)
}

func TestExtractTurnAliasCreateBecomesMerge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	require.NoError(t, env.store.CreateEntity(ctx, world.Entity{
		ID: "nora", SessionID: sess.ID, Type: world.EntityCharacter,
		CanonicalName: "Nora Lindqvist", Aliases: []string{"Nora"},
	}))

	env.client.entities = `{"entities": [{"action": "create", "type": "character", "name": "Nora", "visible": {"mood": "cheerful"}}], "relations": []}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Nora again."})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Metrics.Created["entities"])
	assert.Equal(t, 1, summary.Metrics.Modified["entities"])

	index, err := env.store.EntityIndex(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, index, 1)

	entity, err := env.store.GetEntity(ctx, sess.ID, "nora")
	require.NoError(t, err)
	assert.Equal(t, "cheerful", entity.VisibleProps["mood"])
}

func TestExtractTurnFuzzyEventCancel(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	scheduled := 12
	require.NoError(t, env.store.CreateEvent(ctx, world.Event{
		ID: "ev1", SessionID: sess.ID, Title: "Dinner with Nora",
		Category: world.EventSocial, Status: world.EventPlanned, ScheduledCycle: &scheduled,
	}))

	env.client.events = `{"events": [{"action": "cancel", "title": "diner with nora"}]}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Nora called it off."})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Metrics.Modified["events"])

	planned, err := env.store.PlannedEvents(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, planned)
}

func TestExtractTurnCancelOfUnknownEventDropped(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	env.client.events = `{"events": [{"action": "cancel", "title": "Concert downtown"}]}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Forget the concert."})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Metrics.Modified["events"])

	var found bool
	for _, e := range summary.Metrics.Errors {
		if strings.Contains(e, "no planned event") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtractTurnOverdrawRejectedBalanceKept(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 10)

	// The agent's own running-balance check drops it before the store sees it.
	env.client.transactions = `{"transactions": [{"type": "purchase", "amount": -50, "item": "jacket", "category": "clothing"}]}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Almost bought a jacket."})
	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, 0, summary.Metrics.Created["transactions"])

	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Credits)
}

func TestExtractTurnResolvesTransactionItem(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	require.NoError(t, env.store.CreateEntity(ctx, world.Entity{
		ID: "bike", SessionID: sess.ID, Type: world.EntityItem, CanonicalName: "bicycle",
	}))

	// A misspelled item maps onto the inventory entity; the unknown
	// counterparty stays as written.
	env.client.transactions = `{"transactions": [{"type": "repair", "amount": -20, "item": "bycicle", "counterparty": "roadside mechanic"}]}`

	summary, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Got the bike fixed."})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Metrics.Created["transactions"])

	txs, err := env.store.Transactions(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "bicycle", txs[0].Item)
	assert.Equal(t, "roadside mechanic", txs[0].Counterparty)

	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 80, got.Credits)
}

func TestApplyBatchDiscardsOutOfBoundGauge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	require.NoError(t, env.store.SetGauges(ctx, sess.ID, world.StatGauges{Energy: 5, Morale: 3, Health: 3}))
	snap, err := env.orch.Snapshot(ctx, sess.ID)
	require.NoError(t, err)

	// Deltas in the legal grid can still overflow a gauge at apply time;
	// that gauge is discarded, never clamped, while the sibling moves.
	metrics := Metrics{Created: make(map[string]int), Modified: make(map[string]int)}
	batch := ops.Batch{StatDeltas: &ops.StatDeltas{Energy: 2, Morale: -1}}
	touched := env.orch.applyBatch(ctx, snap, batch, &metrics)

	gauges, err := env.store.GetGauges(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, world.StatGauges{Energy: 5, Morale: 2, Health: 3}, gauges)
	assert.True(t, touched[cache.KindStats])

	var found bool
	for _, e := range metrics.Errors {
		if strings.Contains(e, "gauge energy") {
			found = true
		}
	}
	assert.True(t, found, "expected a discard reason in %v", metrics.Errors)
}

func TestExtractTurnGaugeMoves(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	env.client.stats = `{"energy": -1, "morale": 0.5, "health": 0}`

	_, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "A long but pleasant walk."})
	require.NoError(t, err)

	gauges, err := env.store.GetGauges(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, world.StatGauges{Energy: 2, Morale: 3.5, Health: 3}, gauges)
}

func TestExtractTurnInvalidatesTouchedCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	env.client.transactions = `{"transactions": [{"type": "purchase", "amount": -15, "item": "sandwich", "category": "food"}]}`

	// First turn warms the cache, then spends credits, which must evict the
	// session slice so the second turn sees the new balance.
	_, err := env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Lunch one."})
	require.NoError(t, err)
	_, ok := env.cache.Get(cache.Key{SessionID: sess.ID, Kind: cache.KindSession})
	assert.False(t, ok, "session slice should be invalidated after a transaction")

	_, err = env.orch.ExtractTurn(ctx, Input{SessionID: sess.ID, Narrative: "Lunch two."})
	require.NoError(t, err)
	got, err := env.store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, got.Credits)
}

func TestExtractTurnRejectsConcurrentSession(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sess := env.newSession(t, 100)

	require.True(t, env.orch.locks.acquire(sess.ID))
	defer env.orch.locks.release(sess.ID)

	_, err := env.orch.ExtractTurn(context.Background(), Input{SessionID: sess.ID, Narrative: "x"})
	assert.ErrorIs(t, err, ErrSessionBusy)
}

func TestExtractTurnUnknownSessionFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	_, err := env.orch.ExtractTurn(context.Background(), Input{SessionID: "nope", Narrative: "x"})
	assert.ErrorIs(t, err, ErrSnapshotLoad)
}

func TestSnapshotReflectsStore(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	require.NoError(t, env.store.CreateEntity(ctx, world.Entity{
		ID: "bike", SessionID: sess.ID, Type: world.EntityItem, CanonicalName: "bicycle",
	}))

	snap, err := env.orch.Snapshot(ctx, sess.ID)
	require.NoError(t, err)

	want := &world.Snapshot{
		SessionID: sess.ID,
		Cycle:     10,
		Weekday:   "tuesday",
		Credits:   100,
		Gauges:    world.StatGauges{Energy: 3, Morale: 3, Health: 3},
		Inventory: []world.EntitySummary{{ID: "bike", Type: world.EntityItem, CanonicalName: "bicycle"}},
		EntityIndex: []world.EntitySummary{
			{ID: "bike", Type: world.EntityItem, CanonicalName: "bicycle"},
		},
	}
	if diff := cmp.Diff(want, snap, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestCloseCycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	sess := env.newSession(t, 100)

	for _, text := range []string{"Morning shift at the cafe.", "Dinner with Nora went well."} {
		require.NoError(t, env.store.SaveSceneResume(ctx, world.SceneResume{
			SessionID: sess.ID, SceneID: uuid.NewString(), Cycle: 10, Resume: text,
		}))
	}

	env.client.cycle = `{"digest": "Worked the cafe, then a warm dinner with Nora.", "key_events": ["dinner with Nora"], "characters_met": ["Nora"], "tone": "warm"}`

	digest, err := env.orch.CloseCycle(ctx, sess.ID, 10, "tuesday")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, digest.SessionID)
	assert.Equal(t, 10, digest.Cycle)
	assert.Contains(t, digest.Digest, "Nora")
	assert.Equal(t, []string{"Nora"}, digest.CharactersMet)
}

func TestCloseCycleNoScenes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	sess := env.newSession(t, 100)

	_, err := env.orch.CloseCycle(context.Background(), sess.ID, 10, "tuesday")
	assert.ErrorIs(t, err, world.ErrNotFound)
}
