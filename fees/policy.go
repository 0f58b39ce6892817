// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fees computes the protocol fee deducted from settled amounts.
// The subscription policy applies a floor to the fee, the peer-to-peer
// policy applies a cap.
package fees

import (
	"errors"

	"github.com/luxfi/payvm/components/pay"
)

const (
	// BPSDenominator converts basis points to a rate (10000 bps = 100%).
	BPSDenominator = 10000

	// MaxFeeBPS is the highest configurable fee rate, 5%.
	MaxFeeBPS = 500
)

var ErrInvalidFeeBPS = errors.New("fee bps out of bounds")

// ValidRate reports whether a basis-points rate may be configured.
// Rates are rejected when set, never at charge time.
func ValidRate(bps uint64) bool {
	return bps <= MaxFeeBPS
}

// WithFloor computes the protocol fee on principal at rate bps, raised to
// floor when the computed fee falls below it. Returns nil when bps is
// zero: no fee applies and no fee instruction should be emitted.
func WithFloor(bps uint64, floor, principal *pay.Amount) (*pay.Amount, error) {
	if bps == 0 {
		return nil, nil
	}
	fee, err := pay.MulDiv(principal, bps, BPSDenominator)
	if err != nil {
		return nil, err
	}
	if fee.Lt(floor) {
		fee.Set(floor)
	}
	return fee, nil
}

// WithCap computes the protocol fee on principal at rate bps, lowered to
// cap when the computed fee exceeds it. Returns nil when bps is zero.
func WithCap(bps uint64, cap, principal *pay.Amount) (*pay.Amount, error) {
	if bps == 0 {
		return nil, nil
	}
	fee, err := pay.MulDiv(principal, bps, BPSDenominator)
	if err != nil {
		return nil, err
	}
	if fee.Gt(cap) {
		fee.Set(cap)
	}
	return fee, nil
}
