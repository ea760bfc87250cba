package evm

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var ErrInvalidAddress = errors.New("invalid address")

// Address is a lower-cased, 0x-prefixed 20-byte hex address. Values are only
// produced by ParseAddress or FromCommon, so two Address values compare equal
// with == regardless of the checksum casing they arrived with.
type Address string

// ParseAddress validates and normalizes a wallet or contract address.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAddress
	}
	return FromCommon(common.HexToAddress(s)), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromCommon(a common.Address) Address {
	return Address(strings.ToLower(a.Hex()))
}

func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}

func (a Address) String() string {
	return string(a)
}

// IsZero reports whether a is unset or the all-zero address.
func (a Address) IsZero() bool {
	return a == "" || common.HexToAddress(string(a)) == (common.Address{})
}

// ParseTxHash checks that s is a 32-byte 0x-prefixed hex string and returns
// it lower-cased.
func ParseTxHash(s string) (string, error) {
	s = strings.TrimSpace(s)
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return "", ErrMalformedHash
	}
	return strings.ToLower(s), nil
}
