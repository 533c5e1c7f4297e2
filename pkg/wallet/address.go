// Package wallet validates account addresses and issues the signed
// sessions that stand for a connected wallet.
package wallet

import (
	"encoding/hex"
	"strings"

	"github.com/microinsure/poolregistry/pkg/sentinel"
	"golang.org/x/crypto/sha3"
)

// NormalizeAddress validates a 20-byte hex address and returns its EIP-55
// checksummed form. All-lower and all-upper inputs carry no checksum and
// are accepted; mixed case must match the checksum exactly.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	body, ok := strings.CutPrefix(addr, "0x")
	if !ok {
		body, ok = strings.CutPrefix(addr, "0X")
	}
	if !ok || len(body) != 40 {
		return "", sentinel.Validation("address must be 0x followed by 40 hex characters")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", sentinel.Validation("address must be 0x followed by 40 hex characters")
	}
	sum := checksum(body)
	lower, upper := strings.ToLower(body), strings.ToUpper(body)
	if body != lower && body != upper && "0x"+body != sum {
		return "", sentinel.Validation("address checksum mismatch")
	}
	return sum, nil
}

func checksum(body string) string {
	lower := strings.ToLower(body)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
