// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package subscription implements fixed-interval subscription billing:
// one product configuration, one record per subscriber, and a settlement
// orchestrator that any caller may invoke once a billing period has
// elapsed.
package subscription

import (
	"errors"

	"github.com/luxfi/ids"
	safemath "github.com/luxfi/math"

	"github.com/luxfi/payvm/components/pay"
)

// DefaultGracePeriod is how long past the paid-through boundary a
// subscription stays chargeable, before any configured additional grace.
const DefaultGracePeriod = 86400

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("subscription not found")
	ErrExists       = errors.New("active subscription already exists")
	ErrCancelled    = errors.New("subscription is cancelled")
	ErrCannotCharge = errors.New("subscription is no longer chargeable")
	ErrNoCharge     = errors.New("nothing to charge")
	ErrInvalidParam = errors.New("invalid parameter")
	ErrInvalidFee   = errors.New("invalid fee configuration")
	ErrPaused       = errors.New("subscriptions are paused")
	ErrNotPaused    = errors.New("subscriptions are not paused")
	ErrFrozen       = errors.New("subscriptions are frozen")
	ErrNoRegistry   = errors.New("no job registry configured")
)

// Config is the product configuration shared by all subscribers.
// Paused is a reversible circuit breaker; Frozen is one-way and
// permanently stops subscribing and charging, leaving subscribers free
// to cancel out.
type Config struct {
	Receiver        ids.ShortID   `serialize:"true" json:"receiver"`
	PaymentAsset    pay.AssetInfo `serialize:"true" json:"paymentAsset"`
	UnitAmount      pay.Amount    `serialize:"true" json:"unitAmount"`
	InitialAmount   pay.Amount    `serialize:"true" json:"initialAmount"`
	UnitInterval    uint64        `serialize:"true" json:"unitInterval"`
	AdditionalGrace uint64        `serialize:"true" json:"additionalGrace"`
	URI             string        `serialize:"true" json:"uri"`
	Paused          bool          `serialize:"true" json:"paused"`
	Frozen          bool          `serialize:"true" json:"frozen"`
}

// GracePeriod returns the total grace allowance for this product.
func (c *Config) GracePeriod() uint64 {
	return DefaultGracePeriod + c.AdditionalGrace
}

// Subscription is the per-subscriber billing record. IntervalEndAt is the
// paid-through checkpoint; it only ever advances by whole multiples of
// the unit interval.
type Subscription struct {
	Subscriber    ids.ShortID `serialize:"true" json:"subscriber"`
	CreatedAt     uint64      `serialize:"true" json:"createdAt"`
	LastCharged   uint64      `serialize:"true" json:"lastCharged"`
	IntervalEndAt uint64      `serialize:"true" json:"intervalEndAt"`
	IsCancelled   bool        `serialize:"true" json:"isCancelled"`
	HasDiscount   bool        `serialize:"true" json:"hasDiscount"`
	Discount      pay.Amount  `serialize:"true" json:"discount"`
}

// ActiveAt reports whether the subscription is within its paid period or,
// for non-cancelled subscriptions, within the grace period after it.
func (s *Subscription) ActiveAt(now, grace uint64) bool {
	if now <= s.IntervalEndAt {
		return true
	}
	if s.IsCancelled {
		return false
	}
	return now <= s.IntervalEndAt+grace
}

// Chargeable is the amount and whole-period count due as of now.
type Chargeable struct {
	Amount  *pay.Amount
	Periods uint64
}

// ComputeChargeable computes how much a subscription owes as of now:
// the number of whole billing periods elapsed since the paid-through
// checkpoint (counting the period that just completed), times the unit
// amount net of any per-period discount. A partially elapsed period is
// never charged.
func ComputeChargeable(cfg *Config, sub *Subscription, now uint64) (Chargeable, error) {
	if now < sub.IntervalEndAt {
		return Chargeable{Amount: pay.ZeroAmount()}, nil
	}

	elapsed := now - sub.IntervalEndAt
	total, err := safemath.Add64(elapsed, cfg.UnitInterval)
	if err != nil {
		return Chargeable{}, err
	}
	periods := total / cfg.UnitInterval

	// A discount can never invert the sign of what's owed.
	perPeriod := new(pay.Amount).Set(&cfg.UnitAmount)
	if sub.HasDiscount {
		discount := &sub.Discount
		if discount.Gt(perPeriod) {
			discount = perPeriod
		}
		perPeriod.Sub(perPeriod, discount)
	}

	amount, err := pay.MulU64(perPeriod, periods)
	if err != nil {
		return Chargeable{}, err
	}
	return Chargeable{Amount: amount, Periods: periods}, nil
}
