package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func TestValidateBatchEntities(t *testing.T) {
	t.Parallel()

	b := Batch{
		EntityCreates: []EntityCreate{
			{Type: "character", Name: "Nora"},
			{Type: "spaceship", Name: "Nebula"},
			{Type: "location", Name: ""},
		},
		EntityModifies: []EntityModify{
			{Name: "Nora", Visible: map[string]any{"job": "barista"}},
			{Name: "Nora"},
			{Name: ""},
		},
	}

	valid, invalid := ValidateBatch(b)

	require.Len(t, valid.EntityCreates, 1)
	assert.Equal(t, "Nora", valid.EntityCreates[0].Name)
	require.Len(t, valid.EntityModifies, 1)
	assert.Len(t, invalid, 4)
}

func TestValidateBatchRelations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		op   RelationModify
		ok   bool
	}{
		{"delta_only", RelationModify{Character: "Nora", Delta: floatPtr(1)}, true},
		{"disposition_only", RelationModify{Character: "Nora", Disposition: "friendly"}, true},
		{"neither", RelationModify{Character: "Nora"}, false},
		{"no_character", RelationModify{Delta: floatPtr(1)}, false},
		{"romantic_stage_in_range", RelationModify{Character: "Nora", Delta: floatPtr(1), RomanticStage: intPtr(3)}, true},
		{"romantic_stage_out_of_range", RelationModify{Character: "Nora", Delta: floatPtr(1), RomanticStage: intPtr(9)}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			valid, invalid := ValidateBatch(Batch{RelationModifies: []RelationModify{tc.op}})
			if tc.ok {
				assert.Len(t, valid.RelationModifies, 1)
				assert.Empty(t, invalid)
			} else {
				assert.Empty(t, valid.RelationModifies)
				assert.Len(t, invalid, 1)
			}
		})
	}
}

func TestValidateBatchEvents(t *testing.T) {
	t.Parallel()

	b := Batch{
		EventPlans: []EventPlan{
			{Title: "Dinner with Nora", Category: "social", Weekday: "saturday"},
			{Title: "Vague someday plan", Category: "social"}, // no schedule
			{Title: "Team sync", Category: "meeting", Weekday: "monday"},
		},
		EventRecords: []EventRecord{
			{Title: "Met the harbormaster", Category: "social"},
			{Title: "", Category: "social"},
		},
		EventCancels: []EventCancel{
			{Title: "Dinner with Nora"},
			{},
		},
	}

	valid, invalid := ValidateBatch(b)

	require.Len(t, valid.EventPlans, 1)
	assert.Equal(t, "Dinner with Nora", valid.EventPlans[0].Title)
	assert.Len(t, valid.EventRecords, 1)
	assert.Len(t, valid.EventCancels, 1)
	assert.Len(t, invalid, 4)
	for _, inv := range invalid {
		assert.NotEmpty(t, inv.Reason)
	}
}

func TestValidateBatchTransactions(t *testing.T) {
	t.Parallel()

	b := Batch{Transactions: []Transaction{
		{Type: "purchase", Amount: -15, Item: "sandwich"},
		{Type: "purchase"},                   // monetary without amount
		{Type: "theft", Item: "old bicycle"}, // item movement, no amount needed
		{Type: "theft"},                      // item movement without item
		{Type: "embezzlement", Amount: -50},  // unknown type
	}}

	valid, invalid := ValidateBatch(b)

	require.Len(t, valid.Transactions, 2)
	assert.Len(t, invalid, 3)
}

func TestValidateBatchStatDeltas(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		deltas  StatDeltas
		want    *StatDeltas
		dropped int
	}{
		{
			name:   "all_valid",
			deltas: StatDeltas{Energy: -0.5, Morale: 1, Health: 2},
			want:   &StatDeltas{Energy: -0.5, Morale: 1, Health: 2},
		},
		{
			name:    "off_grid_dropped_others_kept",
			deltas:  StatDeltas{Energy: 0.3, Morale: -1.5},
			want:    &StatDeltas{Morale: -1.5},
			dropped: 1,
		},
		{
			name:    "over_magnitude_dropped",
			deltas:  StatDeltas{Health: 3},
			want:    nil,
			dropped: 1,
		},
		{
			name:   "all_zero",
			deltas: StatDeltas{},
			want:   nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			valid, invalid := ValidateBatch(Batch{StatDeltas: &tc.deltas})
			assert.Equal(t, tc.want, valid.StatDeltas)
			assert.Len(t, invalid, tc.dropped)
		})
	}
}

func TestBatchMergeAndSize(t *testing.T) {
	t.Parallel()

	var b Batch
	b.Merge(Batch{EntityCreates: []EntityCreate{{Type: "item", Name: "sandwich"}}})
	b.Merge(Batch{
		Transactions: []Transaction{{Type: "purchase", Amount: -15}},
		StatDeltas:   &StatDeltas{Energy: 0.5},
	})

	assert.Equal(t, 3, b.Size())
	assert.NotNil(t, b.StatDeltas)
}
