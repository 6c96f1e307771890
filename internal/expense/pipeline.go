package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/expense-tracker/internal/scanning"
)

const (
	// MaxUploadSize is the largest receipt image accepted (10 MiB)
	MaxUploadSize = 10 << 20

	// DefaultRecognizerTimeout bounds a single recognizer call
	DefaultRecognizerTimeout = 30 * time.Second

	// autoDescription is used when the recognizer returns no description
	autoDescription = "Auto-detected from receipt"
)

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// State is a step of receipt ingestion
type State string

const (
	StateReceived   State = "received"
	StateStaged     State = "staged"
	StateDelegated  State = "delegated"
	StateNormalized State = "normalized"
	StateFailed     State = "failed"
)

// Upload is a receipt image submitted for ingestion
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Draft is an unsaved expense proposed from a receipt
type Draft struct {
	Amount      float64 `json:"amount"`
	Category    string  `json:"category"`
	Vendor      string  `json:"vendor"`
	Description string  `json:"description"`
	Date        string  `json:"date"`
}

// Pipeline turns an uploaded receipt into a Draft via an external recognizer
type Pipeline struct {
	staging    Staging
	scanner    scanning.Scanner
	timeSource TimeSource
	timeout    time.Duration
}

// NewPipeline creates a Pipeline with the default recognizer timeout
func NewPipeline(staging Staging, scanner scanning.Scanner) *Pipeline {
	return NewPipelineWithDeps(staging, scanner, SystemClock{}, DefaultRecognizerTimeout)
}

// NewPipelineWithDeps creates a Pipeline with custom dependencies for testing
func NewPipelineWithDeps(staging Staging, scanner scanning.Scanner, timeSrc TimeSource, timeout time.Duration) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultRecognizerTimeout
	}
	return &Pipeline{
		staging:    staging,
		scanner:    scanner,
		timeSource: timeSrc,
		timeout:    timeout,
	}
}

// Ingest validates, stages and recognizes a receipt. The staged file is
// released on every return path; a failed release is only logged.
func (p *Pipeline) Ingest(ctx context.Context, upload Upload) (*Draft, error) {
	log := slog.With("filename", upload.Filename, "file_size", len(upload.Data))

	contentType, err := acceptUpload(upload)
	if err != nil {
		log.WarnContext(ctx, "Rejected receipt upload", "state", StateFailed, "content_type", upload.ContentType, "error", err)
		return nil, err
	}
	log.DebugContext(ctx, "Receipt received", "state", StateReceived, "content_type", contentType)

	key, err := p.staging.Stage(p.stagingName(upload.Filename), upload.Data)
	if err != nil {
		log.ErrorContext(ctx, "Failed to stage receipt", "state", StateFailed, "error", err)
		return nil, fmt.Errorf("%w: staging receipt: %w", ErrStorage, err)
	}
	defer p.release(ctx, key)
	log.DebugContext(ctx, "Receipt staged", "state", StateStaged, "key", key)

	data, err := p.staging.Load(key)
	if err != nil {
		log.ErrorContext(ctx, "Failed to read staged receipt", "state", StateFailed, "key", key, "error", err)
		return nil, fmt.Errorf("%w: reading staged receipt: %w", ErrStorage, err)
	}

	log.DebugContext(ctx, "Receipt delegated to recognizer", "state", StateDelegated)
	result, err := p.recognize(ctx, data, upload.Filename, contentType)
	if err != nil {
		log.ErrorContext(ctx, "Failed to scan receipt", "state", StateFailed, "content_type", contentType, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrRecognition, err)
	}

	draft := p.normalize(result)
	log.InfoContext(ctx, "Receipt recognized", "state", StateNormalized, "category", draft.Category, "amount", draft.Amount)
	return draft, nil
}

// recognize calls the scanner under its own deadline. The call is detached
// from ctx cancellation, and the deadline holds even if the scanner ignores it.
func (p *Pipeline) recognize(ctx context.Context, data []byte, filename, contentType string) (*scanning.ReceiptData, error) {
	scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	type scanResult struct {
		data *scanning.ReceiptData
		err  error
	}
	done := make(chan scanResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- scanResult{err: fmt.Errorf("recognizer panic: %v", r)}
			}
		}()
		d, err := p.scanner.ScanReceipt(scanCtx, data, filename, contentType)
		done <- scanResult{data: d, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if errors.Is(scanCtx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("recognizer timed out after %s: %w", p.timeout, res.err)
			}
			return nil, res.err
		}
		if res.data == nil {
			return nil, errors.New("recognizer returned no data")
		}
		return res.data, nil
	case <-scanCtx.Done():
		return nil, fmt.Errorf("recognizer timed out after %s: %w", p.timeout, scanCtx.Err())
	}
}

// normalize maps recognizer output onto a draft dated today
func (p *Pipeline) normalize(r *scanning.ReceiptData) *Draft {
	description := strings.TrimSpace(r.Description)
	if description == "" {
		description = autoDescription
	}
	return &Draft{
		Amount:      r.Amount,
		Category:    strings.TrimSpace(r.Category),
		Vendor:      strings.TrimSpace(r.Vendor),
		Description: description,
		Date:        p.timeSource.Now().Format(DateLayout),
	}
}

func (p *Pipeline) release(ctx context.Context, key string) {
	if err := p.staging.Release(key); err != nil {
		slog.WarnContext(ctx, "Failed to release staged receipt", "key", key, "error", err)
	}
}

// stagingName prefixes the sanitized name with a timestamp and a random suffix
func (p *Pipeline) stagingName(filename string) string {
	return fmt.Sprintf("%d-%s-%s",
		p.timeSource.Now().UnixNano(),
		uuid.NewString()[:8],
		sanitizeFilename(filename),
	)
}

// Close closes the recognizer
func (p *Pipeline) Close() error {
	return p.scanner.Close()
}

// acceptUpload enforces the size and type limits and returns the normalized MIME type
func acceptUpload(upload Upload) (string, error) {
	if len(upload.Data) == 0 {
		return "", fmt.Errorf("%w: file is empty", ErrInvalidUpload)
	}
	if len(upload.Data) > MaxUploadSize {
		return "", fmt.Errorf("%w: file is larger than %d MiB", ErrInvalidUpload, MaxUploadSize>>20)
	}

	contentType := normalizeContentType(upload.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = normalizeContentType(http.DetectContentType(upload.Data))
	}
	if !allowedContentTypes[contentType] {
		return "", fmt.Errorf("%w: unsupported file type %q, expected JPEG, PNG or WEBP", ErrInvalidUpload, contentType)
	}
	return contentType, nil
}

// normalizeContentType lowercases a MIME type and drops its parameters
func normalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	if mediaType == "image/jpg" || mediaType == "image/pjpeg" {
		mediaType = "image/jpeg"
	}
	return mediaType
}
