package wallet

import "errors"

var (
	// ErrInvalidAddress is returned when the wallet address does not match
	// the 0x-prefixed 40-hex-digit form.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrNotFound is returned when a wallet has never been tracked.
	ErrNotFound = errors.New("wallet not found")

	// ErrUpstreamUnavailable is returned when a wallet has no stored state
	// and the upstream providers cannot be reached to build one.
	ErrUpstreamUnavailable = errors.New("upstream providers unavailable")
)
