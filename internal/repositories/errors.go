package repositories

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrGrantNotFound  = errors.New("no grant with a transaction hash")
	ErrModelNotFound  = errors.New("model not found")
	ErrNonceNotUsable = errors.New("nonce unknown, used or expired")
)
