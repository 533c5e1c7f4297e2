package models

import (
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
)

// RiskType is the risk a pool insures against. The wire value is the
// display label, which is what existing ledger data carries.
type RiskType string

const (
	RiskCropFailure     RiskType = "Crop Failure"
	RiskExtremeWeather  RiskType = "Extreme Weather"
	RiskHealthEmergency RiskType = "Health Emergency"
	RiskLivestockLoss   RiskType = "Livestock Loss"
	RiskOther           RiskType = "Other"
)

var riskTypes = []RiskType{
	RiskCropFailure,
	RiskExtremeWeather,
	RiskHealthEmergency,
	RiskLivestockLoss,
	RiskOther,
}

// RiskTypes returns the supported risk types in display order.
func RiskTypes() []RiskType {
	out := make([]RiskType, len(riskTypes))
	copy(out, riskTypes)
	return out
}

// Valid reports whether r is one of the supported risk types.
func (r RiskType) Valid() bool {
	for _, rt := range riskTypes {
		if r == rt {
			return true
		}
	}
	return false
}

func (r RiskType) String() string { return string(r) }

// ParseRiskType accepts a display label ("Crop Failure") or its compact
// form ("CropFailure"), case-insensitively.
func ParseRiskType(s string) (RiskType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", sentinel.Validation("risk type is required")
	}
	compact := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	for _, rt := range riskTypes {
		if compact == strings.ToLower(strings.ReplaceAll(string(rt), " ", "")) {
			return rt, nil
		}
	}
	return "", sentinel.Validation("unknown risk type " + s)
}
