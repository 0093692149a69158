// Package auth verifies wallet ownership via EIP-191 personal signatures.
package auth

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var addressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ValidAddress reports whether s is a 0x-prefixed 40-hex-char address.
func ValidAddress(s string) bool {
	return addressRegex.MatchString(s)
}

// Verifier recovers signer addresses from EIP-191 personal signatures.
// It is stateless; the logger only records why a verification failed,
// never the failure itself to the caller (verification is a plain bool).
type Verifier struct {
	logger *slog.Logger
}

// NewVerifier creates a new signature verifier.
func NewVerifier(logger *slog.Logger) *Verifier {
	return &Verifier{logger: logger}
}

// Verify reports whether signature was produced over message by the private
// key controlling claimedAddress. It fails closed: malformed signatures,
// recovery errors, and bad addresses all yield false rather than an error,
// so an unauthenticated caller cannot distinguish failure modes.
//
// The signature is the 65-byte (r, s, v) output of personal_sign, hex
// encoded with a 0x prefix. Replay protection (nonces, timestamps in the
// message) is the caller's responsibility.
func (v *Verifier) Verify(message, signature, claimedAddress string) bool {
	if !ValidAddress(claimedAddress) {
		v.logger.Debug("signature verification rejected: malformed address", "address", claimedAddress)
		return false
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		v.logger.Debug("signature verification failed", "address", claimedAddress, "error", err)
		return false
	}

	return strings.EqualFold(recovered, claimedAddress)
}

// RecoverAddress recovers the signer address from an EIP-191 personal
// signature over message. The returned address is EIP-55 checksummed.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length: got %d, want %d", len(sig), crypto.SignatureLength)
	}

	// Wallets emit V as 27/28 per the original Ethereum convention;
	// crypto.SigToPub expects 0/1. Don't mutate the caller's slice.
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] != 0 && sig[64] != 1 {
		return "", fmt.Errorf("invalid recovery id: %d", sig[64])
	}

	digest := personalDigest(message)
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("public key recovery failed: %w", err)
	}

	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// personalDigest hashes the EIP-191 personal-message envelope:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
// The prefix prevents a signed message from doubling as a valid raw
// transaction signature.
func personalDigest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
