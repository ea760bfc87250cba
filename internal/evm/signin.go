package evm

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignInMessage is the text a wallet signs with personal_sign to prove it
// controls an address. Both the client and VerifySignIn build it the same way.
func SignInMessage(domain, nonce string) string {
	return fmt.Sprintf("%s wants you to sign in with your wallet.\n\nNonce: %s", domain, nonce)
}

// VerifySignIn checks an EIP-191 personal_sign signature over
// SignInMessage(domain, nonce) and that it recovers to address.
//
// Algorithm:
// 1. digest = keccak256("\x19Ethereum Signed Message:\n" ++ len(msg) ++ msg)
// 2. signature is r(32) ++ s(32) ++ v(1), v in {27,28} or {0,1}
// 3. recovered public key -> address must equal the claimed address
func VerifySignIn(address Address, domain, nonce, signatureHex string) error {
	sig, err := hexutil.Decode(strings.TrimSpace(signatureHex))
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("invalid signature size: %d", len(sig))
	}

	// SigToPub wants v in {0,1}
	rsv := make([]byte, len(sig))
	copy(rsv, sig)
	if rsv[crypto.RecoveryIDOffset] >= 27 {
		rsv[crypto.RecoveryIDOffset] -= 27
	}
	if rsv[crypto.RecoveryIDOffset] > 1 {
		return fmt.Errorf("invalid signature recovery id: %d", sig[crypto.RecoveryIDOffset])
	}

	digest := accounts.TextHash([]byte(SignInMessage(domain, nonce)))
	pub, err := crypto.SigToPub(digest, rsv)
	if err != nil {
		return fmt.Errorf("recover signer: %w", err)
	}

	signer := FromCommon(crypto.PubkeyToAddress(*pub))
	if signer != address {
		return fmt.Errorf("signature does not match address")
	}
	return nil
}
