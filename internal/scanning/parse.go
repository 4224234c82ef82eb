package scanning

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

const unknownItem = "Unknown Item"

// rawItem is a line item as the model wrote it; either field may be missing
// or of the wrong type
type rawItem struct {
	Description json.RawMessage `json:"description"`
	Price       json.RawMessage `json:"price"`
}

// parseItemsJSON parses the model's response into line items. A single bad
// field never fails the batch: it is replaced with a placeholder.
func parseItemsJSON(text string) ([]ExtractedItem, error) {
	text = stripCodeFence(text)

	// Accept a bare array or an object wrapping one under "items"
	arrayIdx := strings.Index(text, "[")
	objectIdx := strings.Index(text, "{")

	var elements []json.RawMessage
	switch {
	case arrayIdx != -1 && (objectIdx == -1 || arrayIdx < objectIdx):
		endIdx := strings.LastIndex(text, "]")
		if endIdx < arrayIdx {
			return nil, fmt.Errorf("%w: unterminated JSON array", ErrMalformedResponse)
		}
		if err := json.Unmarshal([]byte(text[arrayIdx:endIdx+1]), &elements); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling json: %w", ErrMalformedResponse, err)
		}
	case objectIdx != -1:
		endIdx := strings.LastIndex(text, "}")
		if endIdx < objectIdx {
			return nil, fmt.Errorf("%w: unterminated JSON object", ErrMalformedResponse)
		}
		var wrapper struct {
			Items []json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal([]byte(text[objectIdx:endIdx+1]), &wrapper); err != nil {
			return nil, fmt.Errorf("%w: unmarshaling json: %w", ErrMalformedResponse, err)
		}
		elements = wrapper.Items
	default:
		return nil, fmt.Errorf("%w: no JSON found in response", ErrMalformedResponse)
	}

	items := make([]ExtractedItem, 0, len(elements))
	for i, element := range elements {
		var raw rawItem
		if err := json.Unmarshal(element, &raw); err != nil {
			slog.Debug("Skipping non-object line item", "index", i, "value", string(element))
			continue
		}
		items = append(items, ExtractedItem{
			Description: parseDescription(raw.Description),
			Price:       parsePrice(raw.Price),
		})
	}
	return items, nil
}

// stripCodeFence removes a surrounding markdown code block, if present
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseDescription(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return unknownItem
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return unknownItem
	}
	return s
}

// parsePrice reads a number or a numeric string such as "$1,234.50".
// Anything else, including negative amounts, becomes zero.
func parsePrice(raw json.RawMessage) decimal.Decimal {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		text = string(raw)
	}
	text = strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(text))

	price, err := decimal.NewFromString(text)
	if err != nil || price.IsNegative() {
		return decimal.Zero
	}
	return price
}
