package models

import (
	"testing"

	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftValidate(t *testing.T) {
	v, err := Draft{Name: "  Farmers Co-op ", RiskType: "Crop Failure", InitialFunds: "0.1"}.Validate()
	require.NoError(t, err)
	assert.Equal(t, "Farmers Co-op", v.Name)
	assert.Equal(t, RiskCropFailure, v.RiskType)
	assert.Equal(t, "100000000000000000", v.InitialFunds.String())
}

func TestDraftValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		draft Draft
	}{
		{"blank name", Draft{Name: "  ", RiskType: "Other"}},
		{"missing risk", Draft{Name: "p"}},
		{"unknown risk", Draft{Name: "p", RiskType: "Meteor Strike"}},
		{"bad funds", Draft{Name: "p", RiskType: "Other", InitialFunds: "lots"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.draft.Validate()
			assert.ErrorIs(t, err, sentinel.ErrValidation)
		})
	}
}

func TestParseRiskType(t *testing.T) {
	for in, want := range map[string]RiskType{
		"Crop Failure":    RiskCropFailure,
		"CropFailure":     RiskCropFailure,
		"extremeweather":  RiskExtremeWeather,
		"Health Emergency": RiskHealthEmergency,
		"LivestockLoss":   RiskLivestockLoss,
		" other ":         RiskOther,
	} {
		got, err := ParseRiskType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	assert.Len(t, RiskTypes(), 5)
	assert.False(t, RiskType("Meteor").Valid())
	assert.True(t, RiskOther.Valid())
}

func TestDefaultDraft(t *testing.T) {
	d := DefaultDraft()
	assert.Empty(t, d.Name)
	assert.Equal(t, "Crop Failure", d.RiskType)
	assert.Equal(t, "0.1", d.InitialFunds)
}
