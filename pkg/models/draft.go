package models

import (
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
)

// Draft is the user input for creating a pool.
type Draft struct {
	Name     string `json:"name"`
	RiskType string `json:"riskType"`
	// InitialFunds is a display amount, e.g. "0.1".
	InitialFunds string `json:"initialFunds"`
}

// DefaultDraft is the form state a create dialog starts from and is reset to.
func DefaultDraft() Draft {
	return Draft{RiskType: string(RiskCropFailure), InitialFunds: "0.1"}
}

// ValidDraft is a Draft that passed validation.
type ValidDraft struct {
	Name         string
	RiskType     RiskType
	InitialFunds Amount
}

// Validate checks the draft without touching the ledger. All failures
// wrap sentinel.ErrValidation.
func (d Draft) Validate() (ValidDraft, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return ValidDraft{}, sentinel.Validation("pool name is required")
	}
	rt, err := ParseRiskType(d.RiskType)
	if err != nil {
		return ValidDraft{}, err
	}
	funds, err := ParseDisplayAmount(d.InitialFunds)
	if err != nil {
		return ValidDraft{}, err
	}
	return ValidDraft{Name: name, RiskType: rt, InitialFunds: funds}, nil
}
