package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrBodyTooLarge is returned when the request body exceeds the handler's limit.
	ErrBodyTooLarge = errors.New("httpx: request body too large")
	// ErrBodyInvalid is returned for malformed JSON or unknown fields.
	ErrBodyInvalid = errors.New("httpx: invalid JSON body")
)

// DecodeJSON reads at most limit bytes and decodes a single JSON object into dst. Unknown fields are
// rejected. An empty body leaves dst untouched when allowEmpty is set.
func DecodeJSON(w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrBodyTooLarge
		}
		return fmt.Errorf("%w: %v", ErrBodyInvalid, err)
	}
	if len(body) == 0 {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: body is required", ErrBodyInvalid)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBodyInvalid, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrBodyInvalid)
	}
	return nil
}

// WriteBodyError maps DecodeJSON failures to 413 or 400.
func WriteBodyError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		WriteError(r.Context(), w, NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	WriteError(r.Context(), w, NewError("invalid_request", err.Error(), http.StatusBadRequest))
}
