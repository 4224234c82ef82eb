// Package allocation splits a receipt among the people who shared it.
//
// Item prices are divided evenly among each item's assignees, and tax and
// tip are distributed in proportion to what each person was assigned.
// Everything here is a pure function of its arguments.
package allocation

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/shopspring/decimal"
)

// Item is one priced line from a receipt
type Item struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Participant is a person the bill is split between
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Allocation records which participants share each item.
//
// A present item always maps to at least one participant and never lists the
// same participant twice; Unassign drops the item once its last participant
// is removed. The zero value is an empty allocation.
type Allocation struct {
	assignees map[string][]string
}

// NewAllocation builds an allocation from a plain item -> participants map.
// Empty sets are dropped and duplicates collapsed.
func NewAllocation(m map[string][]string) Allocation {
	var a Allocation
	for itemID, participantIDs := range m {
		for _, participantID := range participantIDs {
			a.Assign(itemID, participantID)
		}
	}
	return a
}

// Assignees returns a copy of the participants sharing itemID, in the order
// they were assigned.
func (a Allocation) Assignees(itemID string) []string {
	return slices.Clone(a.assignees[itemID])
}

// IsAssigned reports whether participantID shares itemID.
func (a Allocation) IsAssigned(itemID, participantID string) bool {
	return slices.Contains(a.assignees[itemID], participantID)
}

// Len returns the number of items with at least one assignee.
func (a Allocation) Len() int {
	return len(a.assignees)
}

// itemIDs returns the assigned item IDs in sorted order.
func (a Allocation) itemIDs() []string {
	ids := make([]string, 0, len(a.assignees))
	for id := range a.assignees {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy that shares no state with a.
func (a Allocation) Clone() Allocation {
	if a.assignees == nil {
		return Allocation{}
	}
	c := Allocation{assignees: make(map[string][]string, len(a.assignees))}
	for itemID, ids := range a.assignees {
		c.assignees[itemID] = slices.Clone(ids)
	}
	return c
}

// Assign adds participantID to itemID's assignees. It is a no-op if the
// participant is already assigned or either ID is empty.
func (a *Allocation) Assign(itemID, participantID string) {
	if itemID == "" || participantID == "" || a.IsAssigned(itemID, participantID) {
		return
	}
	if a.assignees == nil {
		a.assignees = make(map[string][]string)
	}
	a.assignees[itemID] = append(a.assignees[itemID], participantID)
}

// Unassign removes participantID from itemID, deleting the item entry when
// no assignees remain.
func (a *Allocation) Unassign(itemID, participantID string) {
	current, ok := a.assignees[itemID]
	if !ok {
		return
	}
	remaining := slices.DeleteFunc(slices.Clone(current), func(id string) bool {
		return id == participantID
	})
	if len(remaining) == 0 {
		delete(a.assignees, itemID)
		return
	}
	a.assignees[itemID] = remaining
}

// Toggle flips participantID's membership for itemID and reports whether the
// participant is assigned afterwards.
func (a *Allocation) Toggle(itemID, participantID string) bool {
	if a.IsAssigned(itemID, participantID) {
		a.Unassign(itemID, participantID)
		return false
	}
	a.Assign(itemID, participantID)
	return a.IsAssigned(itemID, participantID)
}

// MarshalJSON encodes the allocation as an object of item ID -> participant IDs
func (a Allocation) MarshalJSON() ([]byte, error) {
	if a.assignees == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a.assignees)
}

// UnmarshalJSON decodes an item ID -> participant IDs object, restoring the
// no-empty-set invariant on the way in.
func (a *Allocation) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*a = NewAllocation(m)
	return nil
}
