package dto

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags on a decoded request.
func Validate(v any) error {
	return validate.Struct(v)
}

// ValidateTxHash checks the optional claimed transaction hash header.
func ValidateTxHash(hash string) error {
	return validate.Var(hash, "omitempty,len=66,startswith=0x,hexadecimal")
}

type NonceRequest struct {
	Address string `json:"address" validate:"required,eth_addr"`
}

type WalletSignInRequest struct {
	Address   string `json:"address" validate:"required,eth_addr"`
	Nonce     string `json:"nonce" validate:"required,max=128"`
	Signature string `json:"signature" validate:"required,startswith=0x,hexadecimal"`
}

type PredictionRequest struct {
	Features json.RawMessage `json:"features" validate:"required"`
}
