package split

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/snapsplit/internal/allocation"
)

// palette holds the presentation colors handed out to participants in turn
var palette = []string{"red", "blue", "green", "yellow", "purple", "pink", "indigo", "orange"}

// defaultParticipantID identifies the participant every session starts with
const defaultParticipantID = "me"

// Session is one bill being split, from upload until the user starts over
type Session struct {
	ID           string                   `json:"id"`
	Items        []allocation.Item        `json:"items"`
	Participants []allocation.Participant `json:"participants"`
	Allocation   allocation.Allocation    `json:"allocation"`
	Tax          decimal.Decimal          `json:"tax"`
	Tip          decimal.Decimal          `json:"tip"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

// Summary runs the allocation engine over the session's current state
func (s *Session) Summary() allocation.Summary {
	return allocation.Summarize(s.Items, s.Participants, s.Allocation, s.Tax, s.Tip)
}

func (s *Session) hasItem(id string) bool {
	return slices.ContainsFunc(s.Items, func(item allocation.Item) bool {
		return item.ID == id
	})
}

func (s *Session) hasParticipant(id string) bool {
	return slices.ContainsFunc(s.Participants, func(p allocation.Participant) bool {
		return p.ID == id
	})
}

// colorFor returns the palette color for the n-th participant
func colorFor(n int) string {
	return palette[n%len(palette)]
}
