package wallet

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/microinsure/poolregistry/pkg/sentinel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"lower", "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", false},
		{"upper", "0xFB6916095CA1DF60BB79CE92CE3EA74C37C5D359", "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", false},
		{"bad checksum", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", "", true},
		{"short", "0x1234", "", true},
		{"no prefix", "5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "", true},
		{"not hex", "0xzzAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, sentinel.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSessions_RoundTrip(t *testing.T) {
	s := NewSessions([]byte("secret"), time.Hour)
	token, account, err := s.Issue("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", account)

	got, err := s.Account(token)
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestSessions_Rejects(t *testing.T) {
	s := NewSessions([]byte("secret"), time.Hour)
	token, _, err := s.Issue("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.NoError(t, err)

	t.Run("empty", func(t *testing.T) {
		_, err := s.Account("")
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("other secret", func(t *testing.T) {
		_, err := NewSessions([]byte("other"), time.Hour).Account(token)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("expired", func(t *testing.T) {
		later := NewSessions([]byte("secret"), time.Hour)
		later.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		_, err := later.Account(token)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("wrong algorithm", func(t *testing.T) {
		none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "0xA"}).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Account(none)
		assert.ErrorIs(t, err, ErrNoSession)
	})
	t.Run("invalid address", func(t *testing.T) {
		_, _, err := s.Issue("0xA")
		assert.ErrorIs(t, err, sentinel.ErrValidation)
	})
}
