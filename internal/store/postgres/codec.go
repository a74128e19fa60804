package postgres

import (
	"fmt"
	"math/big"
)

// WAD amounts persist as decimal TEXT. Decimal strings round-trip big.Int
// values exactly and match the encoding the event payloads already use.

func encodeBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}
