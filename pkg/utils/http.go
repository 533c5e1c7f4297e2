package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes caps request bodies decoded by DecodeJSONBody.
const MaxBodyBytes = 1 << 20

// DrainAndClose closes the given ReadCloser.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	// Drain to let the transport reuse the connection.
	_, _ = io.Copy(io.Discard, rc)
	return rc.Close()
}

// DecodeJSONBody decodes a size-limited JSON request body into out.
// Unknown fields are rejected.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
