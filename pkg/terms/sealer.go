// Package terms produces the opaque EncryptedTerms blob stored with a pool.
//
// Nothing here is encryption. Placeholder is a reversible encoding of fixed
// text and provides no confidentiality; anyone reading the ledger can
// decode it. A real scheme plugs in behind Sealer without touching the
// registry or the mutator, which treat the blob as uninterpreted bytes.
package terms

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Terms is the plaintext attached to a pool.
type Terms struct {
	Terms      string `json:"terms"`
	Conditions string `json:"conditions"`
}

// Default returns the terms every new pool starts with.
func Default() Terms {
	return Terms{
		Terms:      "Default insurance terms",
		Conditions: "All claims must be verified by pool members",
	}
}

// Sealer turns Terms into an opaque string.
type Sealer interface {
	Seal(t Terms) (string, error)
}

// PlaceholderPrefix marks blobs produced by Placeholder.
const PlaceholderPrefix = "PLAIN-"

// Placeholder encodes terms as PlaceholderPrefix + base64(JSON). NOT secret.
type Placeholder struct{}

// Seal implements Sealer.
func (Placeholder) Seal(t Terms) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("seal terms: %w", err)
	}
	return PlaceholderPrefix + base64.StdEncoding.EncodeToString(b), nil
}

// Open reverses Placeholder.Seal. It exists for tooling and tests; the
// pool core never opens terms.
func (Placeholder) Open(blob string) (Terms, error) {
	enc, ok := strings.CutPrefix(blob, PlaceholderPrefix)
	if !ok {
		return Terms{}, fmt.Errorf("open terms: missing %q prefix", PlaceholderPrefix)
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return Terms{}, fmt.Errorf("open terms: %w", err)
	}
	var t Terms
	if err := json.Unmarshal(b, &t); err != nil {
		return Terms{}, fmt.Errorf("open terms: %w", err)
	}
	return t, nil
}
