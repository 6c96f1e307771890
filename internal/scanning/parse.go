package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// defaultCategory is used when the model does not name a category
const defaultCategory = "Other"

// llmReceipt mirrors ReceiptData but tolerates amounts sent as strings
type llmReceipt struct {
	Amount      any    `json:"amount"`
	Category    string `json:"category"`
	Vendor      string `json:"vendor"`
	Description string `json:"description"`
}

// parseReceiptJSON extracts receipt fields from an LLM text response
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var raw llmReceipt
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	amount, err := parseAmount(raw.Amount)
	if err != nil {
		return nil, err
	}

	data := &ReceiptData{
		Amount:      amount,
		Category:    strings.TrimSpace(raw.Category),
		Vendor:      strings.TrimSpace(raw.Vendor),
		Description: strings.TrimSpace(raw.Description),
	}
	if data.Category == "" {
		data.Category = defaultCategory
	}

	return data, nil
}

// parseAmount accepts a JSON number, a numeric string such as "$1,234.50", or null
func parseAmount(v any) (float64, error) {
	switch amount := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return amount, nil
	case string:
		cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(amount)
		if cleaned == "" {
			return 0, nil
		}
		d, err := decimal.NewFromString(cleaned)
		if err != nil {
			return 0, fmt.Errorf("parsing amount %q: %w", amount, err)
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("unexpected amount type %T", v)
	}
}
