package scanning

import "context"

// ReceiptData contains the fields a recognizer extracted from a receipt
type ReceiptData struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Vendor      string  `json:"vendor"`
	Description string  `json:"description"`
}

// Scanner defines the interface for receipt recognizers
type Scanner interface {
	// ScanReceipt interprets a receipt image. Implementations must honor ctx's deadline.
	ScanReceipt(ctx context.Context, imageData []byte, filename string, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}
