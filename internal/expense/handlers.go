package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	maxJSONBodySize = 1 << 20
	// multipart framing on top of the image itself
	maxUploadBodySize = MaxUploadSize + 1<<20
)

// writeJSON encodes v as the response body
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes {"error": message}
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps the error taxonomy onto HTTP responses
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidUpload):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Expense not found")
	case errors.Is(err, ErrRecognition):
		writeJSONError(w, http.StatusBadGateway, "Failed to process receipt. Please try again or enter manually.")
	default:
		slog.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Storage error. Please try again.")
	}
}

// decodeFields reads an expense body; malformed bodies are validation errors
func decodeFields(w http.ResponseWriter, r *http.Request) (Fields, error) {
	var fields Fields
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodySize))
	if err := dec.Decode(&fields); err != nil {
		return Fields{}, fmt.Errorf("%w: invalid request body: %v", ErrValidation, err)
	}
	return fields, nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListExpenses returns a list of all expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := s.service.GetExpense(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

// handleCreateExpense stores a new expense
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	expense, err := s.service.CreateExpense(r.Context(), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

// handleUpdateExpense replaces an expense's editable fields
func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	fields, err := decodeFields(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	expense, err := s.service.UpdateExpense(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStats returns aggregate statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Statistics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleProcessReceipt runs receipt ingestion and returns the draft. The
// multipart body is streamed so an oversized image is never spooled to disk.
func (s *Server) handleProcessReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	upload, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	draft, err := s.service.IngestReceipt(r.Context(), upload)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// readUpload finds the "file" part and reads at most MaxUploadSize bytes of it
func readUpload(r *http.Request) (Upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return Upload{}, fmt.Errorf("%w: error parsing form", ErrInvalidUpload)
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return Upload{}, fmt.Errorf("%w: no file uploaded", ErrInvalidUpload)
		}
		if err != nil {
			return Upload{}, uploadReadError(err)
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, MaxUploadSize+1))
		part.Close()
		if err != nil {
			return Upload{}, uploadReadError(err)
		}
		if len(data) > MaxUploadSize {
			return Upload{}, errUploadTooLarge
		}
		return Upload{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}, nil
	}
}

var errUploadTooLarge = fmt.Errorf("%w: file is too large, maximum size is 10MB", ErrInvalidUpload)

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return errUploadTooLarge
	}
	slog.Error("Error reading multipart form", "error", err)
	return fmt.Errorf("%w: error parsing form", ErrInvalidUpload)
}
