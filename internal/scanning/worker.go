package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Worker implements the Scanner interface against a receipt processing
// worker exposing POST /process-receipt
type Worker struct {
	baseURL string
	client  *http.Client
}

// NewWorker creates a Worker client for the given base URL
func NewWorker(baseURL string) (*Worker, error) {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid worker url %q", baseURL)
	}

	return &Worker{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}, nil
}

type workerRequest struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

type workerResponse struct {
	Amount      *float64 `json:"amount"`
	Category    string   `json:"category"`
	Vendor      string   `json:"vendor"`
	Description string   `json:"description"`
}

// ScanReceipt posts the base64 encoded image to the worker
func (w *Worker) ScanReceipt(ctx context.Context, imageData []byte, filename string, _ string) (*ReceiptData, error) {
	body, err := json.Marshal(workerRequest{
		Image:    base64.StdEncoding.EncodeToString(imageData),
		Filename: filename,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/process-receipt", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling worker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("worker error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if out.Amount == nil {
		return nil, fmt.Errorf("worker response is missing amount")
	}

	return &ReceiptData{
		Amount:      *out.Amount,
		Category:    out.Category,
		Vendor:      out.Vendor,
		Description: out.Description,
	}, nil
}

// Close is a no-op for the HTTP client
func (w *Worker) Close() error {
	return nil
}
