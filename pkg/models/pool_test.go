package models

import (
	"encoding/json"
	"testing"

	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePool() PoolRecord {
	funds, _ := ParseDisplayAmount("0.1")
	return PoolRecord{
		ID:             "1700000000000-abc1234",
		Name:           "Farmers Co-op",
		RiskType:       RiskCropFailure,
		TotalMembers:   3,
		TotalFunds:     funds,
		CreatedBy:      "0xA",
		CreatedAt:      1700000000,
		EncryptedTerms: "PLAIN-e30=",
	}
}

func TestPoolRoundTrip(t *testing.T) {
	p := samplePool()

	data, err := EncodePool(p)
	require.NoError(t, err)

	got, err := DecodePool(p.ID, data)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.RiskType, got.RiskType)
	assert.Equal(t, p.TotalMembers, got.TotalMembers)
	assert.True(t, p.TotalFunds.Equal(got.TotalFunds))
	assert.Equal(t, p.CreatedBy, got.CreatedBy)
	assert.Equal(t, p.CreatedAt, got.CreatedAt)
	assert.Equal(t, p.EncryptedTerms, got.EncryptedTerms)
	assert.Nil(t, got.Extra)

	again, err := EncodePool(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
}

func TestPoolWireLayout(t *testing.T) {
	data, err := EncodePool(samplePool())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "Farmers Co-op",
		"riskType": "Crop Failure",
		"totalMembers": 3,
		"totalFunds": "100000000000000000",
		"createdBy": "0xA",
		"createdAt": 1700000000,
		"encryptedTerms": "PLAIN-e30="
	}`, string(data))
}

func TestDecodePool_PreservesUnknownFields(t *testing.T) {
	in := `{"name":"x","riskType":"Other","totalMembers":1,"totalFunds":"0","createdBy":"0xB","createdAt":5,"encryptedTerms":"","region":{"country":"KE"},"note":"hi"}`
	p, err := DecodePool("id1", []byte(in))
	require.NoError(t, err)
	require.Len(t, p.Extra, 2)

	p.TotalMembers++
	out, err := EncodePool(p)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, float64(2), m["totalMembers"])
	assert.Equal(t, "hi", m["note"])
	assert.Equal(t, map[string]any{"country": "KE"}, m["region"])
}

func TestDecodePool_LenientDefaults(t *testing.T) {
	p, err := DecodePool("id1", []byte(`{"name":"legacy","riskType":"Other","createdBy":"0xC","createdAt":10}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), p.TotalMembers)
	assert.True(t, p.TotalFunds.IsZero())

	p, err = DecodePool("id2", []byte(`{"name":"numeric","totalFunds":250}`))
	require.NoError(t, err)
	assert.Equal(t, "250", p.TotalFunds.String())
}

func TestDecodePool_Corruption(t *testing.T) {
	for _, in := range []string{`not json`, `null`, `[1,2]`, `{"totalMembers":-1}`, `{"totalFunds":"abc"}`} {
		t.Run(in, func(t *testing.T) {
			_, err := DecodePool("bad", []byte(in))
			require.Error(t, err)
			assert.ErrorIs(t, err, sentinel.ErrCorruption)
		})
	}
}

func TestIndexCodec(t *testing.T) {
	data, err := EncodeIndex(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	ids, err := DecodeIndex([]byte(`["a","b"]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = DecodeIndex([]byte(`{"a":1}`))
	assert.ErrorIs(t, err, sentinel.ErrCorruption)
}

func TestPoolMatches(t *testing.T) {
	p := samplePool()
	assert.True(t, p.Matches(""))
	assert.True(t, p.Matches("farmers"))
	assert.True(t, p.Matches("crop"))
	assert.False(t, p.Matches("livestock"))
}
