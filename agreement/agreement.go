// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package agreement implements peer-to-peer recurring transfer
// agreements: fixed amount, fixed interval, optional expiry, settled
// one period at a time by any caller once a due time passes.
package agreement

import (
	"errors"

	"github.com/luxfi/ids"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/payvm/components/pay"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("agreement not found")
	ErrSelfPayment  = errors.New("payer and receiver are the same account")
	ErrInvalidParam = errors.New("invalid agreement parameters")
	ErrInvalidFee   = errors.New("invalid fee configuration")
	ErrNoCharge     = errors.New("agreement has no charge due")
	ErrNotLapsed    = errors.New("agreement is neither lapsed nor expired")
	ErrPaused       = errors.New("agreements are paused")
	ErrNotPaused    = errors.New("agreements are not paused")
	ErrFrozen       = errors.New("agreements are frozen")
	ErrNoRegistry   = errors.New("no job registry configured")
)

// Status is the lifecycle state of an agreement, fully derived from its
// timestamps. It is never stored.
type Status uint8

const (
	// Active agreements can be charged once their due time passes.
	Active Status = iota
	// NotStarted agreements have a future start time.
	NotStarted
	// Lapsed agreements missed a due time by more than one interval and
	// can never be charged again.
	Lapsed
	// Expired agreements are past their end time.
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case NotStarted:
		return "not_started"
	case Lapsed:
		return "lapsed"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Agreement is a recurring transfer from From to To of Amount every
// Interval seconds. IntervalDueAt is the next settlement boundary; a
// successful transfer advances it by exactly one interval, so a payer
// that stops settling lapses rather than accruing unbounded debt.
type Agreement struct {
	ID            uint64        `serialize:"true" json:"id"`
	From          ids.ShortID   `serialize:"true" json:"from"`
	To            ids.ShortID   `serialize:"true" json:"to"`
	Asset         pay.AssetInfo `serialize:"true" json:"asset"`
	Amount        pay.Amount    `serialize:"true" json:"amount"`
	CreatedAt     uint64        `serialize:"true" json:"createdAt"`
	Interval      uint64        `serialize:"true" json:"interval"`
	IntervalDueAt uint64        `serialize:"true" json:"intervalDueAt"`
	LastCharged   uint64        `serialize:"true" json:"lastCharged"`
	StartAt       uint64        `serialize:"true" json:"startAt"`
	HasEndAt      bool          `serialize:"true" json:"hasEndAt"`
	EndAt         uint64        `serialize:"true" json:"endAt"`
}

// StatusAt derives the agreement's lifecycle state at now. Expiry wins
// over lapse: an agreement past its end time reports Expired even when
// it also missed a due time.
func (a *Agreement) StatusAt(now uint64) Status {
	if a.HasEndAt && a.EndAt <= now {
		return Expired
	}
	// A lapse deadline past the uint64 horizon can never be missed.
	if deadline, err := safemath.Add64(a.IntervalDueAt, a.Interval); err == nil && deadline < now {
		return Lapsed
	}
	if a.StartAt > now {
		return NotStarted
	}
	return Active
}

// HasCharge reports whether a settlement at now would transfer one
// period's amount.
func (a *Agreement) HasCharge(now uint64) bool {
	return a.StatusAt(now) == Active && a.IntervalDueAt <= now
}
