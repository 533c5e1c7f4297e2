package mutator

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	idSuffixLen = 7
	base36      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// IDFunc returns a fresh pool id for the given creation time.
type IDFunc func(now time.Time) (string, error)

// NewID returns "<unix-millis>-<7 random base-36 chars>". Ids are only
// probabilistically unique; a collision overwrites the older record.
func NewID(now time.Time) (string, error) {
	var sb strings.Builder
	sb.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	sb.WriteByte('-')
	radix := big.NewInt(int64(len(base36)))
	for range idSuffixLen {
		n, err := rand.Int(rand.Reader, radix)
		if err != nil {
			return "", err
		}
		sb.WriteByte(base36[n.Int64()])
	}
	return sb.String(), nil
}
