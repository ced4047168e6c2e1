// Package wei carries native-token amounts as arbitrary-precision integers
// that serialize to decimal strings. JSON numbers silently lose precision
// past 2^53, which is well below common wei balances.
package wei

import (
	"fmt"
	"math/big"
	"strings"
)

// Big is a big.Int that marshals to a quoted decimal string.
type Big big.Int

// FromInt wraps a big.Int. Returns nil for nil input.
func FromInt(i *big.Int) *Big {
	if i == nil {
		return nil
	}
	return (*Big)(new(big.Int).Set(i))
}

// FromInt64 builds an amount from an int64.
func FromInt64(i int64) *Big {
	return (*Big)(big.NewInt(i))
}

// Parse reads a decimal string into an amount.
func Parse(s string) (*Big, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	return (*Big)(i), nil
}

// ToInt returns the underlying big.Int. Returns nil for nil receiver.
func (b *Big) ToInt() *big.Int {
	if b == nil {
		return nil
	}
	return (*big.Int)(b)
}

func (b *Big) String() string {
	if b == nil {
		return "0"
	}
	return (*big.Int)(b).String()
}

// Sign mirrors big.Int.Sign, treating nil as zero.
func (b *Big) Sign() int {
	if b == nil {
		return 0
	}
	return (*big.Int)(b).Sign()
}

// MarshalJSON renders the amount as a quoted decimal string.
func (b *Big) MarshalJSON() ([]byte, error) {
	return []byte(`"` + b.String() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare integer literal.
func (b *Big) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid wei amount %q", s)
	}
	*b = (Big)(*i)
	return nil
}
