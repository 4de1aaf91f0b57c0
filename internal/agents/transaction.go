package agents

import (
	"fmt"
	"strings"

	"fabula/internal/ops"
	"fabula/internal/perception"
	"fabula/internal/world"
)

const transactionInstruction = `You track the economy of a life simulation:
credits and owned items.
From the scene text, extract every concrete economic movement: purchases,
sales, salary, rent, bills, fines, services, gifts, loans, repayments, and
item movements (loss, forgotten somewhere, theft, destruction, damage,
repair, relocation). Ignore hypotheticals and window shopping.
Amounts are signed integers in credits: spending is negative, income
positive. Item movements without money carry no amount.
Respond with exactly one JSON object:
{"transactions": [{"type": "purchase", "amount": -15, "item": "sandwich",
"category": "food", "counterparty": "", "location_from": "", "location_to": ""}]}`

// TransactionAgent extracts economy movements. It rejects locally any
// debit that would overdraw the credit balance shown in its context;
// existence checks on referenced items are left to fuzzy resolution
// downstream.
type TransactionAgent struct{}

// NewTransactionAgent returns the transaction extractor.
func NewTransactionAgent() *TransactionAgent { return &TransactionAgent{} }

// Name implements Agent.
func (a *TransactionAgent) Name() string { return "transaction" }

// BuildContext implements Agent.
func (a *TransactionAgent) BuildContext(snap *world.Snapshot, narrative string) (string, string) {
	var b strings.Builder
	writeHeader(&b, snap)
	b.WriteString("\n")
	writeInventory(&b, snap)
	b.WriteString("\nScene text:\n")
	b.WriteString(boundedNarrative(narrative))
	return transactionInstruction, b.String()
}

// Parse implements Agent.
func (a *TransactionAgent) Parse(snap *world.Snapshot, raw string) (Result, error) {
	var payload struct {
		Transactions []ops.Transaction `json:"transactions"`
	}
	if err := perception.DecodePayload(raw, &payload); err != nil {
		return Result{}, fmt.Errorf("transaction payload: %w", err)
	}

	var result Result
	balance := snap.Credits
	for _, tx := range payload.Transactions {
		if balance+tx.Amount < 0 {
			result.LocalDrops = append(result.LocalDrops,
				fmt.Sprintf("transaction: %s of %d rejected, would overdraw balance %d", tx.Type, tx.Amount, balance))
			continue
		}
		balance += tx.Amount
		result.Batch.Transactions = append(result.Batch.Transactions, tx)
	}
	return result, nil
}
