package allocation

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// LineItem is one participant's share of a single receipt item
type LineItem struct {
	Label string          `json:"label"`
	Cost  decimal.Decimal `json:"cost"`
}

// Breakdown is what one participant owes
type Breakdown struct {
	Participant Participant     `json:"participant"`
	Items       []LineItem      `json:"items"`
	Subtotal    decimal.Decimal `json:"subtotal"` // sum of Items
	Extras      decimal.Decimal `json:"extras"`   // proportional share of tax and tip
	Total       decimal.Decimal `json:"total"`
}

// Summary is a breakdown plus the receipt level totals it was computed from
type Summary struct {
	Subtotal         decimal.Decimal `json:"subtotal"`          // every item on the receipt
	AssignedSubtotal decimal.Decimal `json:"assigned_subtotal"` // items with at least one assignee
	Unassigned       decimal.Decimal `json:"unassigned"`
	Tax              decimal.Decimal `json:"tax"`
	Tip              decimal.Decimal `json:"tip"`
	GrandTotal       decimal.Decimal `json:"grand_total"` // Subtotal + Tax + Tip
	Breakdown        []Breakdown     `json:"breakdown"`
}

// ComputeBreakdown splits items among participants and returns what each
// participant owes, largest total first.
//
// Algorithm:
//   - Each item is divided evenly among its assignees. Assignees that are not
//     in participants are ignored; items left with no assignees are not
//     charged to anyone.
//   - Tax and tip are shared in proportion to each participant's subtotal
//     over the assigned subtotal. Nothing is distributed when nothing is
//     assigned.
//   - Participants owing exactly zero are omitted. Ties keep the order of
//     participants.
//
// Negative prices, tax, or tip are treated as zero. The inputs are not
// modified and the result shares no memory with them.
func ComputeBreakdown(items []Item, participants []Participant, alloc Allocation, tax, tip decimal.Decimal) []Breakdown {
	result, _ := compute(items, participants, alloc, tax, tip)
	return result
}

// Summarize runs ComputeBreakdown and adds receipt level totals.
func Summarize(items []Item, participants []Participant, alloc Allocation, tax, tip decimal.Decimal) Summary {
	breakdown, assigned := compute(items, participants, alloc, tax, tip)

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(nonNegative(item.Price))
	}
	tax, tip = nonNegative(tax), nonNegative(tip)

	return Summary{
		Subtotal:         subtotal,
		AssignedSubtotal: assigned,
		Unassigned:       subtotal.Sub(assigned),
		Tax:              tax,
		Tip:              tip,
		GrandTotal:       subtotal.Add(tax).Add(tip),
		Breakdown:        breakdown,
	}
}

// compute returns the sorted breakdown and the total price of assigned items.
func compute(items []Item, participants []Participant, alloc Allocation, tax, tip decimal.Decimal) ([]Breakdown, decimal.Decimal) {
	result := make([]Breakdown, 0, len(participants))
	if len(items) == 0 || len(participants) == 0 {
		return result, decimal.Zero
	}

	// Index participants, first occurrence wins
	index := make(map[string]int, len(participants))
	running := make([]Breakdown, 0, len(participants))
	for _, p := range participants {
		if _, dup := index[p.ID]; dup {
			continue
		}
		index[p.ID] = len(running)
		running = append(running, Breakdown{
			Participant: p,
			Items:       []LineItem{},
			Subtotal:    decimal.Zero,
		})
	}

	assigned := decimal.Zero
	for _, item := range items {
		sharers := knownAssignees(alloc.Assignees(item.ID), index)
		if len(sharers) == 0 {
			continue
		}

		price := nonNegative(item.Price)
		assigned = assigned.Add(price)

		cost := price.Div(decimal.NewFromInt(int64(len(sharers))))
		label := shareLabel(item.Description, len(sharers))
		for _, id := range sharers {
			b := &running[index[id]]
			b.Subtotal = b.Subtotal.Add(cost)
			b.Items = append(b.Items, LineItem{Label: label, Cost: cost})
		}
	}

	extras := nonNegative(tax).Add(nonNegative(tip))
	for _, b := range running {
		b.Extras = decimal.Zero
		if assigned.IsPositive() {
			b.Extras = b.Subtotal.Mul(extras).Div(assigned)
		}
		b.Total = b.Subtotal.Add(b.Extras)
		if b.Total.IsZero() {
			continue
		}
		result = append(result, b)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Total.GreaterThan(result[j].Total)
	})

	return result, assigned
}

// knownAssignees filters ids down to participants present in index.
func knownAssignees(ids []string, index map[string]int) []string {
	known := ids[:0]
	for _, id := range ids {
		if _, ok := index[id]; ok {
			known = append(known, id)
		}
	}
	return known
}

func shareLabel(description string, shares int) string {
	if shares > 1 {
		return fmt.Sprintf("%s (1/%d)", description, shares)
	}
	return description
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
