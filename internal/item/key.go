// Copyright 2025 James Ross
package item

import (
	"fmt"
	"math/big"
)

// Key is an unsigned 128-bit ordering key extracted from an item's "ts"
// capture. Go has no native u128, so it is stored as two uint64 halves.
type Key struct {
	Hi uint64
	Lo uint64
}

var maxUint128 = func() *big.Int {
	one := big.NewInt(1)
	shift := new(big.Int).Lsh(one, 128)
	return new(big.Int).Sub(shift, one)
}()

// ParseKey parses a decimal string into a Key. It fails on input that is not
// a base-10 integer (an optional leading sign is accepted), on a negative
// value, or on a value that overflows 128 bits, matching the source program's
// "unparseable capture means no key" rule.
func ParseKey(s string) (Key, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Key{}, fmt.Errorf("ordering key %q is not a base-10 integer", s)
	}
	if n.Sign() < 0 || n.Cmp(maxUint128) > 0 {
		return Key{}, fmt.Errorf("ordering key %q does not fit in 128 bits", s)
	}
	mask64 := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(n, mask64)
	hi := new(big.Int).Rsh(n, 64)
	return Key{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	if k.Hi != other.Hi {
		return k.Hi < other.Hi
	}
	return k.Lo < other.Lo
}

// Compare returns -1, 0, or 1 as k is less than, equal to, or greater than other.
func (k Key) Compare(other Key) int {
	switch {
	case k.Less(other):
		return -1
	case other.Less(k):
		return 1
	default:
		return 0
	}
}

func (k Key) String() string {
	n := new(big.Int).Lsh(new(big.Int).SetUint64(k.Hi), 64)
	n.Or(n, new(big.Int).SetUint64(k.Lo))
	return n.String()
}
