package evm

import (
	"errors"
	"math/big"
)

var (
	// ErrNotFound means the node does not know the hash: never mined, dropped,
	// or not yet indexed. No receipt for a pending transaction is also ErrNotFound.
	ErrNotFound = errors.New("not found on chain")

	// ErrMalformedHash is returned before any RPC is made.
	ErrMalformedHash = errors.New("malformed transaction hash")

	// ErrUnavailable wraps transport failures and timeouts that survived the
	// retry policy. Callers must treat it as "cannot confirm".
	ErrUnavailable = errors.New("chain rpc unavailable")
)

// Transaction is the part of an on-chain transaction the payment checks use.
type Transaction struct {
	Hash  string
	From  Address
	To    *Address // nil for contract creation
	Value *big.Int // wei
}

type Receipt struct {
	Success     bool
	BlockNumber uint64
}
