// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pay holds the value types shared by the payment primitives:
// fixed-point amounts, asset descriptors, and the outbound instructions
// emitted by settlement.
package pay

import (
	"errors"

	"github.com/holiman/uint256"
)

var ErrAmountOverflow = errors.New("amount overflow")

// Amount is a 256-bit unsigned fixed-point quantity. All intermediate
// division truncates toward zero so settlement never over-collects.
type Amount = uint256.Int

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) *Amount {
	return uint256.NewInt(v)
}

// ZeroAmount returns a fresh zero Amount.
func ZeroAmount() *Amount {
	return new(Amount)
}

// MulDiv computes x * num / denom with truncating division.
func MulDiv(x *Amount, num, denom uint64) (*Amount, error) {
	if denom == 0 {
		return nil, ErrAmountOverflow
	}
	product, overflow := new(Amount).MulOverflow(x, uint256.NewInt(num))
	if overflow {
		return nil, ErrAmountOverflow
	}
	return product.Div(product, uint256.NewInt(denom)), nil
}

// MulU64 computes x * y, failing on overflow.
func MulU64(x *Amount, y uint64) (*Amount, error) {
	product, overflow := new(Amount).MulOverflow(x, uint256.NewInt(y))
	if overflow {
		return nil, ErrAmountOverflow
	}
	return product, nil
}
