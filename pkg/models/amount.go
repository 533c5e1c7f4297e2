package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
)

// Decimals is the number of smallest ledger units per display unit (10^18).
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Amount is a non-negative integer amount in the ledger's smallest unit.
// The zero value is 0. On the wire it is a decimal string.
type Amount struct {
	v *big.Int
}

// NewAmount returns n smallest units. Negative n is clamped to 0.
func NewAmount(n int64) Amount {
	if n < 0 {
		n = 0
	}
	return Amount{v: big.NewInt(n)}
}

// ParseAmount parses a decimal integer count of smallest units.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	return Amount{v: v}, nil
}

// ParseDisplayAmount converts a display amount such as "0.1" into smallest
// units. At most Decimals fractional digits are accepted. Empty means 0.
func ParseDisplayAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return Amount{}, sentinel.Validation(fmt.Sprintf("invalid amount %q", s))
	}
	if len(frac) > Decimals {
		return Amount{}, sentinel.Validation(fmt.Sprintf("amount %q has more than %d decimals", s, Decimals))
	}
	v, _ := new(big.Int).SetString(whole+frac+strings.Repeat("0", Decimals-len(frac)), 10)
	return Amount{v: v}, nil
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (a Amount) int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// BigInt returns a copy of the amount.
func (a Amount) BigInt() *big.Int { return new(big.Int).Set(a.int()) }

func (a Amount) IsZero() bool { return a.int().Sign() == 0 }

func (a Amount) Equal(b Amount) bool { return a.int().Cmp(b.int()) == 0 }

// String returns the amount in smallest units.
func (a Amount) String() string { return a.int().String() }

// Format renders the amount in display units without trailing zeros,
// e.g. 100000000000000000 -> "0.1".
func (a Amount) Format() string {
	q, r := new(big.Int).QuoRem(a.int(), unit, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	rs := r.String()
	frac := strings.Repeat("0", Decimals-len(rs)) + rs
	return q.String() + "." + strings.TrimRight(frac, "0")
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a JSON integer.
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
