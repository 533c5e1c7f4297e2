package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/microinsure/poolregistry/pkg/utils"
)

const (
	// IndexKey is the well-known key holding the JSON array of pool ids.
	IndexKey = "pool_keys"
	// PoolKeyPrefix prefixes every pool record key.
	PoolKeyPrefix = "pool_"
)

// PoolKey returns the ledger key of a pool record.
func PoolKey(id string) string { return PoolKeyPrefix + id }

// PoolRecord is a micro-insurance pool as stored under pool_<id>.
type PoolRecord struct {
	// ID comes from the key; it is not part of the stored value.
	ID             string   `json:"-"`
	Name           string   `json:"name"`
	RiskType       RiskType `json:"riskType"`
	TotalMembers   uint64   `json:"totalMembers"`
	TotalFunds     Amount   `json:"totalFunds"`
	CreatedBy      string   `json:"createdBy"`
	CreatedAt      int64    `json:"createdAt"`
	EncryptedTerms string   `json:"encryptedTerms"`

	// Extra holds fields written by other clients; they survive a join untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// poolFields is PoolRecord without methods, so encoding/json does not recurse.
type poolFields PoolRecord

var knownFields = map[string]bool{
	"name":           true,
	"riskType":       true,
	"totalMembers":   true,
	"totalFunds":     true,
	"createdBy":      true,
	"createdAt":      true,
	"encryptedTerms": true,
}

// EncodePool serializes a record to its ledger value.
func EncodePool(p PoolRecord) ([]byte, error) {
	base, err := json.Marshal(poolFields(p))
	if err != nil {
		return nil, fmt.Errorf("encode pool %s: %w", p.ID, err)
	}
	if len(p.Extra) == 0 {
		return base, nil
	}
	merged := make(map[string]json.RawMessage, len(knownFields)+len(p.Extra))
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("encode pool %s: %w", p.ID, err)
	}
	for k, v := range p.Extra {
		if !knownFields[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// DecodePool parses a ledger value into a record with the given id.
// Any failure wraps sentinel.ErrCorruption.
func DecodePool(id string, data []byte) (PoolRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return PoolRecord{}, fmt.Errorf("pool %s: %w: %v", id, sentinel.ErrCorruption, err)
	}
	if raw == nil {
		return PoolRecord{}, fmt.Errorf("pool %s: %w: not an object", id, sentinel.ErrCorruption)
	}
	var f poolFields
	if err := json.Unmarshal(data, &f); err != nil {
		return PoolRecord{}, fmt.Errorf("pool %s: %w: %v", id, sentinel.ErrCorruption, err)
	}
	p := PoolRecord(f)
	p.ID = id
	for k, v := range raw {
		if knownFields[k] {
			continue
		}
		if p.Extra == nil {
			p.Extra = map[string]json.RawMessage{}
		}
		p.Extra[k] = v
	}
	return p, nil
}

// EncodeIndex serializes the pool id list.
func EncodeIndex(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// DecodeIndex parses the pool id list. Failures wrap sentinel.ErrCorruption.
func DecodeIndex(data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", IndexKey, sentinel.ErrCorruption, err)
	}
	return ids, nil
}

// Matches reports whether the pool name or risk type contains q,
// ignoring case. An empty q matches everything.
func (p PoolRecord) Matches(q string) bool {
	q = strings.TrimSpace(q)
	if q == "" {
		return true
	}
	return utils.ContainsFold(p.Name, q) || utils.ContainsFold(string(p.RiskType), q)
}
