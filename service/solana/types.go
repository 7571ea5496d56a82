package solana

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrTransactionNotFound is returned when the node has no record of a
// signature, typically because it was pruned.
var ErrTransactionNotFound = errors.New("transaction not found")

// ErrInvalidAddress is returned for strings that are not base58 public keys.
var ErrInvalidAddress = errors.New("invalid solana address")

// ParseAddress decodes a base58 public key. The encoding must round-trip so
// that non-canonical inputs are rejected.
func ParseAddress(address string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if pk.String() != address {
		return solana.PublicKey{}, fmt.Errorf("%w: %q is not canonical base58", ErrInvalidAddress, address)
	}
	return pk, nil
}

// ValidAddress reports whether address is a canonical base58 public key.
func ValidAddress(address string) bool {
	_, err := ParseAddress(address)
	return err == nil
}
