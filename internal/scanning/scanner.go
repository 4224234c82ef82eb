package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
)

// ExtractedItem is one purchased line read from a receipt
type ExtractedItem struct {
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ExtractItems reads the purchased line items from a receipt image or PDF.
	// An empty result means the receipt had no recognizable items.
	ExtractItems(ctx context.Context, imageData []byte, contentType string) ([]ExtractedItem, error)

	// Close closes the scanner and releases resources
	Close() error
}

var (
	// ErrUnauthorized means the vision service rejected the configured credentials
	ErrUnauthorized = errors.New("scanner credentials rejected")

	// ErrTimeout means the vision service did not answer in time
	ErrTimeout = errors.New("scanner timed out")

	// ErrMalformedResponse means the vision service answered with something
	// that could not be read as a list of items
	ErrMalformedResponse = errors.New("malformed scanner response")
)

// classifyError tags err with one of the package sentinel errors when the
// cause is recognizable.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if strings.Contains(err.Error(), "API key") || strings.Contains(err.Error(), "API_KEY") {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
