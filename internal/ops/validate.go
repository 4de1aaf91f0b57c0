package ops

import (
	"fmt"
	"math"

	"fabula/internal/world"
)

// Invalid describes one dropped operation.
type Invalid struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (i Invalid) String() string { return i.Kind + ": " + i.Reason }

// Monetary transaction types must carry a nonzero amount; item-movement
// types must name the item they move.
var (
	monetaryTx = map[world.TransactionType]bool{
		world.TxPurchase: true, world.TxSale: true, world.TxSalary: true,
		world.TxRent: true, world.TxBill: true, world.TxFine: true,
		world.TxService: true, world.TxLoan: true, world.TxLoanRepaid: true,
		world.TxBorrow: true,
	}
	itemTx = map[world.TransactionType]bool{
		world.TxLoss: true, world.TxForgotten: true, world.TxTheft: true,
		world.TxDestruction: true, world.TxDamage: true, world.TxRepair: true,
		world.TxRelocation: true,
	}
)

// StatDeltaStep is the granularity of gauge deltas.
const StatDeltaStep = 0.5

// StatDeltaMax bounds the magnitude of a single gauge delta.
const StatDeltaMax = 2.0

// ValidateBatch checks every operation in b structurally and semantically:
// required fields, enum membership, numeric bounds. It never fails; the
// result is the surviving batch plus one Invalid per dropped operation, so
// the orchestrator can continue with a partial batch.
func ValidateBatch(b Batch) (Batch, []Invalid) {
	var out Batch
	var dropped []Invalid

	drop := func(kind, format string, args ...any) {
		dropped = append(dropped, Invalid{Kind: kind, Reason: fmt.Sprintf(format, args...)})
	}

	for _, op := range b.EntityCreates {
		switch {
		case op.Name == "":
			drop("entity_create", "missing name")
		case !world.ValidEntityType(world.EntityType(op.Type)):
			drop("entity_create", "unknown entity type %q for %q", op.Type, op.Name)
		default:
			out.EntityCreates = append(out.EntityCreates, op)
		}
	}

	for _, op := range b.EntityModifies {
		switch {
		case op.Name == "":
			drop("entity_modify", "missing name")
		case len(op.Visible) == 0 && len(op.Hidden) == 0 && len(op.Aliases) == 0:
			drop("entity_modify", "no changes for %q", op.Name)
		default:
			out.EntityModifies = append(out.EntityModifies, op)
		}
	}

	for _, op := range b.RelationModifies {
		switch {
		case op.Character == "":
			drop("relation_modify", "missing character reference")
		case op.Delta == nil && op.Disposition == "":
			drop("relation_modify", "neither delta nor disposition for %q", op.Character)
		case op.RomanticStage != nil && (*op.RomanticStage < world.RomanticStageMin || *op.RomanticStage > world.RomanticStageMax):
			drop("relation_modify", "romantic stage %d out of range for %q", *op.RomanticStage, op.Character)
		default:
			out.RelationModifies = append(out.RelationModifies, op)
		}
	}

	for _, op := range b.EventPlans {
		switch {
		case op.Title == "":
			drop("event_plan", "missing title")
		case !world.ValidEventCategory(world.EventCategory(op.Category)):
			drop("event_plan", "unknown category %q for %q", op.Category, op.Title)
		case op.ScheduledCycle == nil && op.Weekday == "":
			drop("event_plan", "no explicit schedule for %q", op.Title)
		case op.Recurrence != nil && op.Recurrence.Frequency == "":
			drop("event_plan", "recurrence without frequency for %q", op.Title)
		default:
			out.EventPlans = append(out.EventPlans, op)
		}
	}

	for _, op := range b.EventRecords {
		switch {
		case op.Title == "":
			drop("event_record", "missing title")
		case !world.ValidEventCategory(world.EventCategory(op.Category)):
			drop("event_record", "unknown category %q for %q", op.Category, op.Title)
		default:
			out.EventRecords = append(out.EventRecords, op)
		}
	}

	for _, op := range b.EventCancels {
		if op.Title == "" {
			drop("event_cancel", "missing title")
			continue
		}
		out.EventCancels = append(out.EventCancels, op)
	}

	for _, op := range b.Transactions {
		tt := world.TransactionType(op.Type)
		switch {
		case !world.ValidTransactionType(tt):
			drop("transaction", "unknown transaction type %q", op.Type)
		case monetaryTx[tt] && op.Amount == 0:
			drop("transaction", "%s without amount", op.Type)
		case itemTx[tt] && op.Item == "":
			drop("transaction", "%s without item", op.Type)
		default:
			out.Transactions = append(out.Transactions, op)
		}
	}

	if b.StatDeltas != nil {
		clean := StatDeltas{}
		keep := false
		for _, g := range []struct {
			name  string
			delta float64
			dst   *float64
		}{
			{"energy", b.StatDeltas.Energy, &clean.Energy},
			{"morale", b.StatDeltas.Morale, &clean.Morale},
			{"health", b.StatDeltas.Health, &clean.Health},
		} {
			if g.delta == 0 {
				continue
			}
			if !validStatDelta(g.delta) {
				drop("stat_delta", "%s delta %v not in the allowed half-point set", g.name, g.delta)
				continue
			}
			*g.dst = g.delta
			keep = true
		}
		if keep {
			out.StatDeltas = &clean
		}
	}

	return out, dropped
}

// validStatDelta reports whether d belongs to {±0.5, ±1, ±1.5, ±2}.
func validStatDelta(d float64) bool {
	if math.Abs(d) > StatDeltaMax {
		return false
	}
	scaled := d / StatDeltaStep
	return scaled == math.Trunc(scaled) && d != 0
}
