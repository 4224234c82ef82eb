package split

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/zombor/snapsplit/internal/allocation"
	"github.com/zombor/snapsplit/internal/scanning"
)

var (
	// ErrNoItemsFound is returned when a receipt yields no line items
	ErrNoItemsFound = errors.New("no items found on receipt")

	// ErrInvalidParticipant is returned for a blank participant name
	ErrInvalidParticipant = errors.New("participant name is required")

	// ErrUnknownItem is returned when an assignment names an item not on the receipt
	ErrUnknownItem = errors.New("unknown item")

	// ErrUnknownParticipant is returned when an assignment names a participant not in the session
	ErrUnknownParticipant = errors.New("unknown participant")
)

const unknownItem = "Unknown Item"

// IDGenerator generates unique session IDs
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles split session operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	metrics     *Metrics
	idGenerator IDGenerator
	timeSource  TimeSource
	extractions singleflight.Group
}

// NewService creates a new Service with default ID generator and time source.
// metrics may be nil.
func NewService(db DB, scanner scanning.Scanner, metrics *Metrics) *Service {
	return NewServiceWithDeps(db, scanner, metrics, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, metrics *Metrics, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		metrics:     metrics,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// StartSession reads the line items from a receipt and opens a session for them
func (s *Service) StartSession(ctx context.Context, filename string, data []byte, contentType string) (*Session, error) {
	extracted, err := s.extract(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	if len(extracted) == 0 {
		return nil, ErrNoItemsFound
	}

	items := make([]allocation.Item, len(extracted))
	for i, e := range extracted {
		items[i] = allocation.Item{Description: e.Description, Price: e.Price}
	}

	session := s.newSession(items)
	if err := s.db.SaveSession(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	slog.Info("Session started", "session_id", session.ID, "items", len(items), "filename", filename)
	return session, nil
}

// CreateSession opens a session for items entered by hand
func (s *Service) CreateSession(items []allocation.Item) (*Session, error) {
	if len(items) == 0 {
		return nil, ErrNoItemsFound
	}

	session := s.newSession(items)
	if err := s.db.SaveSession(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return session, nil
}

// extract runs the scanner, sharing one call among concurrent uploads of the
// same image. The shared call outlives any single caller; each caller stops
// waiting when its own ctx is done.
func (s *Service) extract(ctx context.Context, data []byte, contentType string) ([]scanning.ExtractedItem, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	ch := s.extractions.DoChan(key, func() (any, error) {
		start := s.timeSource.Now()
		items, err := s.scanner.ExtractItems(context.WithoutCancel(ctx), data, contentType)
		s.metrics.observeExtraction(err, len(items), s.timeSource.Now().Sub(start))
		return items, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			slog.Debug("Shared in-flight extraction", "sha256", key)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]scanning.ExtractedItem), nil
	}
}

// newSession builds a session with normalized items and the default participant
func (s *Service) newSession(items []allocation.Item) *Session {
	now := s.timeSource.Now()

	normalized := make([]allocation.Item, len(items))
	for i, item := range items {
		description := strings.TrimSpace(item.Description)
		if description == "" {
			description = unknownItem
		}
		price := item.Price
		if price.IsNegative() {
			price = decimal.Zero
		}
		normalized[i] = allocation.Item{
			ID:          fmt.Sprintf("item-%d", i+1),
			Description: description,
			Price:       price,
		}
	}

	return &Session{
		ID:    s.idGenerator.Generate(),
		Items: normalized,
		Participants: []allocation.Participant{
			{ID: defaultParticipantID, Name: "Me", Color: colorFor(0)},
		},
		Tax:       decimal.Zero,
		Tip:       decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(id string) (*Session, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return session, nil
}

// DeleteSession discards a session, used when the user starts over
func (s *Service) DeleteSession(id string) error {
	if _, err := s.db.GetSession(id); err != nil {
		return fmt.Errorf("getting session for deletion: %w", err)
	}
	if err := s.db.DeleteSession(id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// AddParticipant appends a participant to a session
func (s *Service) AddParticipant(id, name string) (allocation.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return allocation.Participant{}, ErrInvalidParticipant
	}

	var added allocation.Participant
	_, err := s.db.UpdateSession(id, func(session *Session) error {
		n := len(session.Participants)
		added = allocation.Participant{
			ID:    fmt.Sprintf("friend-%d", n),
			Name:  name,
			Color: colorFor(n),
		}
		session.Participants = append(session.Participants, added)
		session.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		return allocation.Participant{}, fmt.Errorf("adding participant: %w", err)
	}
	return added, nil
}

// ToggleAssignment adds participantID to itemID's sharers, or removes them
// if already present
func (s *Service) ToggleAssignment(id, itemID, participantID string) (*Session, error) {
	session, err := s.db.UpdateSession(id, func(session *Session) error {
		if !session.hasItem(itemID) {
			return fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
		}
		if !session.hasParticipant(participantID) {
			return fmt.Errorf("%w: %s", ErrUnknownParticipant, participantID)
		}
		session.Allocation.Toggle(itemID, participantID)
		session.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("toggling assignment: %w", err)
	}
	return session, nil
}

// SetExtras records the tax and tip. Negative amounts are stored as zero.
func (s *Service) SetExtras(id string, tax, tip decimal.Decimal) (*Session, error) {
	session, err := s.db.UpdateSession(id, func(session *Session) error {
		session.Tax = clampZero(tax)
		session.Tip = clampZero(tip)
		session.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("setting extras: %w", err)
	}
	return session, nil
}

// Summary computes the current breakdown for a session
func (s *Service) Summary(id string) (allocation.Summary, error) {
	session, err := s.GetSession(id)
	if err != nil {
		return allocation.Summary{}, err
	}
	return s.summarize(session), nil
}

// ShareText renders a session's breakdown as a shareable message
func (s *Service) ShareText(id string) (string, error) {
	summary, err := s.Summary(id)
	if err != nil {
		return "", err
	}
	return allocation.ShareText(summary, s.timeSource.Now()), nil
}

// Calculate computes a breakdown for caller-supplied data without touching
// any session
func (s *Service) Calculate(items []allocation.Item, participants []allocation.Participant, alloc allocation.Allocation, tax, tip decimal.Decimal) allocation.Summary {
	s.metrics.observeBreakdown()
	return allocation.Summarize(items, participants, alloc, tax, tip)
}

// PurgeExpired deletes sessions not updated within maxAge
func (s *Service) PurgeExpired(maxAge time.Duration) (int, error) {
	cutoff := s.timeSource.Now().Add(-maxAge)
	n, err := s.db.DeleteSessionsBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return n, nil
}

func (s *Service) summarize(session *Session) allocation.Summary {
	s.metrics.observeBreakdown()
	return session.Summary()
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
