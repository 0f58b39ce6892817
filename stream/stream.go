// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package stream implements continuous token streaming: a sender
// escrows a principal that vests linearly to a receiver between a start
// and an end time. Withdrawals are permissionless and pay the receiver;
// either party can cancel and settle both sides at the vested split.
package stream

import (
	"errors"

	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/components/pay"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrNotFound        = errors.New("stream not found")
	ErrSelfStream      = errors.New("sender and receiver are the same account")
	ErrInvalidParam    = errors.New("invalid stream parameters")
	ErrDepositMismatch = errors.New("deposit does not match declared principal")
	ErrNoBalance       = errors.New("no balance to withdraw")
	ErrExcessWithdraw  = errors.New("withdrawal exceeds receiver balance")
)

// Stream is a linear vesting of Principal from Sender to Receiver over
// [StartAt, EndAt). Remaining is what is still escrowed; the amount
// already withdrawn is Principal - Remaining.
type Stream struct {
	ID        uint64        `serialize:"true" json:"id"`
	Sender    ids.ShortID   `serialize:"true" json:"sender"`
	Receiver  ids.ShortID   `serialize:"true" json:"receiver"`
	Asset     pay.AssetInfo `serialize:"true" json:"asset"`
	Principal pay.Amount    `serialize:"true" json:"principal"`
	Remaining pay.Amount    `serialize:"true" json:"remaining"`
	StartAt   uint64        `serialize:"true" json:"startAt"`
	EndAt     uint64        `serialize:"true" json:"endAt"`
}

// Duration is the vesting window length in seconds.
func (s *Stream) Duration() uint64 {
	return s.EndAt - s.StartAt
}

// Streamed returns how much of the principal has vested as of now:
// principal scaled by the elapsed fraction of the window, truncating.
func (s *Stream) Streamed(now uint64) (*pay.Amount, error) {
	var delta uint64
	switch {
	case now <= s.StartAt:
		return pay.ZeroAmount(), nil
	case now >= s.EndAt:
		delta = s.Duration()
	default:
		delta = now - s.StartAt
	}
	return pay.MulDiv(&s.Principal, delta, s.Duration())
}

// BalanceOf returns what addr could claim from the stream as of now.
// The receiver's balance is the vested amount net of prior withdrawals;
// the sender's is everything else still escrowed; anyone else has none.
func (s *Stream) BalanceOf(addr ids.ShortID, now uint64) (*pay.Amount, error) {
	receiver, err := s.receiverBalance(now)
	if err != nil {
		return nil, err
	}
	switch addr {
	case s.Receiver:
		return receiver, nil
	case s.Sender:
		return new(pay.Amount).Sub(&s.Remaining, receiver), nil
	default:
		return pay.ZeroAmount(), nil
	}
}

func (s *Stream) receiverBalance(now uint64) (*pay.Amount, error) {
	streamed, err := s.Streamed(now)
	if err != nil {
		return nil, err
	}
	withdrawn := new(pay.Amount).Sub(&s.Principal, &s.Remaining)
	return streamed.Sub(streamed, withdrawn), nil
}
