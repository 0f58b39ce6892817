// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package subscription

import (
	"errors"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"
	"github.com/luxfi/metric"

	"github.com/luxfi/payvm/admin"
	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/factory"
	"github.com/luxfi/payvm/fees"
	"github.com/luxfi/payvm/registry"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

// FeeSource supplies the protocol fee configuration read at charge time.
// *factory.Factory satisfies it.
type FeeSource interface {
	FeeConfig() factory.FeeConfig
	JobRegistry() ids.ShortID
}

// Service is one subscription product: its configuration, its subscriber
// records, and the settlement entry points. Settlement is permissionless
// and idempotent: the checkpoint is advanced and persisted before any
// instruction is emitted, so a replayed charge finds nothing to bill.
type Service struct {
	mu      sync.Mutex
	log     log.Logger
	clock   *mockable.Clock
	metrics *metrics

	state *state
	auth  admin.Authorizer
	fees  FeeSource

	// self is this product's identity in the job registry.
	self ids.ShortID
	jobs *registry.Registry
}

// New opens a subscription product over db, creating the configuration
// if it does not exist yet. jobs may be nil when the product is not
// registered for worker upkeep.
func New(
	db database.Database,
	logger log.Logger,
	registerer metric.Registerer,
	clock *mockable.Clock,
	auth admin.Authorizer,
	feeSource FeeSource,
	jobs *registry.Registry,
	self ids.ShortID,
	cfg Config,
) (*Service, error) {
	if cfg.UnitAmount.IsZero() || cfg.UnitInterval == 0 {
		return nil, ErrInvalidParam
	}
	if err := cfg.PaymentAsset.Verify(); err != nil {
		return nil, err
	}

	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	s := &Service{
		log:     logger,
		clock:   clock,
		metrics: m,
		state:   newState(db),
		auth:    auth,
		fees:    feeSource,
		self:    self,
		jobs:    jobs,
	}

	switch _, err := s.state.GetConfig(); {
	case err == nil:
	case errors.Is(err, database.ErrNotFound):
		if err := s.state.PutConfig(&cfg); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return s, nil
}

// Config returns the current product configuration.
func (s *Service) Config() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetConfig()
}

// Subscribe creates a billing record for subscriber, charging the
// configured initial amount up front. Re-subscribing while a cancelled
// record is still within its paid period reinstates it in place without
// a new charge or a period reset.
func (s *Service) Subscribe(subscriber ids.ShortID) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Frozen {
		return nil, ErrFrozen
	}
	if cfg.Paused {
		return nil, ErrPaused
	}
	now := s.clock.Unix()

	sub, err := s.state.GetSubscription(subscriber)
	switch {
	case err == nil && sub.ActiveAt(now, cfg.GracePeriod()):
		if !sub.IsCancelled {
			return nil, ErrExists
		}
		sub.IsCancelled = false
		if err := s.state.PutSubscription(sub); err != nil {
			return nil, err
		}
		s.log.Info("subscription reinstated",
			log.Stringer("subscriber", subscriber),
		)
		return nil, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, err
	}

	end, err := safemath.Add64(now, cfg.UnitInterval)
	if err != nil {
		return nil, err
	}
	sub = &Subscription{
		Subscriber:    subscriber,
		CreatedAt:     now,
		LastCharged:   now,
		IntervalEndAt: end,
	}
	// Split the initial charge first: a fee failure must not leave a
	// half-created record behind.
	var instrs []pay.Instruction
	if !cfg.InitialAmount.IsZero() {
		instrs, err = s.split(cfg, subscriber, new(pay.Amount).Set(&cfg.InitialAmount))
		if err != nil {
			return nil, err
		}
	}
	if err := s.state.PutSubscription(sub); err != nil {
		return nil, err
	}
	s.metrics.numSubscribed.Inc()
	s.log.Info("subscribed",
		log.Stringer("subscriber", subscriber),
		log.Uint64("intervalEndAt", sub.IntervalEndAt),
	)
	return instrs, nil
}

// Cancel marks the subscriber's record cancelled. The record stays
// queryable until its paid period runs out, but loses its grace window
// and cannot be charged again.
func (s *Service) Cancel(subscriber ids.ShortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.state.GetSubscription(subscriber)
	if err != nil {
		return err
	}
	if sub.IsCancelled {
		return ErrCancelled
	}
	sub.IsCancelled = true
	if err := s.state.PutSubscription(sub); err != nil {
		return err
	}
	s.metrics.numCancelled.Inc()
	s.log.Info("subscription cancelled",
		log.Stringer("subscriber", subscriber),
	)
	return nil
}

// Charge settles every whole billing period the subscriber owes. Any
// caller may invoke it; the payer is always the subscriber.
func (s *Service) Charge(subscriber ids.ShortID) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.charge(subscriber)
}

func (s *Service) charge(subscriber ids.ShortID) ([]pay.Instruction, error) {
	cfg, err := s.state.GetConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Frozen {
		return nil, ErrFrozen
	}
	if cfg.Paused {
		return nil, ErrPaused
	}
	now := s.clock.Unix()

	sub, err := s.state.GetSubscription(subscriber)
	if err != nil {
		return nil, err
	}
	if sub.IsCancelled {
		return nil, ErrCancelled
	}
	if !sub.ActiveAt(now, cfg.GracePeriod()) {
		return nil, ErrCannotCharge
	}

	ch, err := ComputeChargeable(cfg, sub, now)
	if err != nil {
		return nil, err
	}
	if ch.Periods == 0 || ch.Amount.IsZero() {
		return nil, ErrNoCharge
	}

	advance, err := safemath.Mul64(ch.Periods, cfg.UnitInterval)
	if err != nil {
		return nil, err
	}
	end, err := safemath.Add64(sub.IntervalEndAt, advance)
	if err != nil {
		return nil, err
	}
	// The fee split can fail, so it runs before the checkpoint moves;
	// the checkpoint is still persisted before the instructions are
	// handed out, so a replay finds nothing left to bill.
	instrs, err := s.split(cfg, subscriber, ch.Amount)
	if err != nil {
		return nil, err
	}
	sub.IntervalEndAt = end
	sub.LastCharged = now
	if err := s.state.PutSubscription(sub); err != nil {
		return nil, err
	}
	s.metrics.numCharges.Inc()
	s.log.Info("charged",
		log.Stringer("subscriber", subscriber),
		log.Uint64("periods", ch.Periods),
		log.String("amount", ch.Amount.String()),
		log.Uint64("intervalEndAt", sub.IntervalEndAt),
	)
	return instrs, nil
}

// split applies the protocol fee floor to amount and returns the fee and
// receiver transfers, payer subscriber.
func (s *Service) split(cfg *Config, subscriber ids.ShortID, amount *pay.Amount) ([]pay.Instruction, error) {
	fc := s.fees.FeeConfig()
	fee, err := fees.WithFloor(fc.FeeBPS, &fc.MinFee, amount)
	if err != nil {
		return nil, err
	}
	if fee == nil {
		return []pay.Instruction{&pay.Transfer{
			From:      subscriber,
			Recipient: cfg.Receiver,
			Asset:     cfg.PaymentAsset,
			Amount:    amount,
		}}, nil
	}
	if fee.Gt(amount) {
		return nil, ErrInvalidFee
	}

	net := new(pay.Amount).Sub(amount, fee)
	instrs := []pay.Instruction{&pay.Transfer{
		From:      subscriber,
		Recipient: fc.FeeAddress,
		Asset:     cfg.PaymentAsset,
		Amount:    fee,
	}}
	if !net.IsZero() {
		instrs = append(instrs, &pay.Transfer{
			From:      subscriber,
			Recipient: cfg.Receiver,
			Asset:     cfg.PaymentAsset,
			Amount:    net,
		})
	}
	return instrs, nil
}

// Work is Charge plus a work receipt crediting the worker at the job
// registry. It requires a registry to be configured.
func (s *Service) Work(worker, subscriber ids.ShortID) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jobs == nil || s.fees.JobRegistry() == ids.ShortEmpty {
		return nil, ErrNoRegistry
	}
	// The receipt must be collectible before the checkpoint moves: a
	// deduction failure after settlement would mark the period paid
	// with no value moved.
	if err := s.jobs.CanReceipt(s.self); err != nil {
		return nil, err
	}

	instrs, err := s.charge(subscriber)
	if err != nil {
		return nil, err
	}
	payout, err := s.jobs.WorkReceipt(s.self, worker)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, &pay.WorkReceipt{
		Registry: s.fees.JobRegistry(),
		Worker:   worker,
	})
	if payout != nil {
		instrs = append(instrs, payout)
	}
	s.metrics.numWork.Inc()
	return instrs, nil
}

// CanWork reports whether a worker-initiated charge for subscriber would
// settle at least one period right now.
func (s *Service) CanWork(subscriber ids.ShortID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil || cfg.Paused || cfg.Frozen {
		return false
	}
	sub, err := s.state.GetSubscription(subscriber)
	if err != nil || sub.IsCancelled {
		return false
	}
	now := s.clock.Unix()
	if !sub.ActiveAt(now, cfg.GracePeriod()) {
		return false
	}
	ch, err := ComputeChargeable(cfg, sub, now)
	return err == nil && ch.Periods > 0 && !ch.Amount.IsZero()
}

// ChargeableNow returns what the subscriber owes as of the current time
// without settling anything.
func (s *Service) ChargeableNow(subscriber ids.ShortID) (Chargeable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return Chargeable{}, err
	}
	sub, err := s.state.GetSubscription(subscriber)
	if err != nil {
		return Chargeable{}, err
	}
	return ComputeChargeable(cfg, sub, s.clock.Unix())
}

// GetSubscription returns the subscriber's record.
func (s *Service) GetSubscription(subscriber ids.ShortID) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetSubscription(subscriber)
}

// Subscriptions lists records in ascending subscriber order, paginated
// with an exclusive start-after cursor.
func (s *Service) Subscriptions(startAfter *ids.ShortID, limit uint32) ([]*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListSubscriptions(startAfter, limit)
}

// SetDiscount sets or clears (discount == nil) a flat per-period discount
// for subscriber. Admin only.
func (s *Service) SetDiscount(caller, subscriber ids.ShortID, discount *pay.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	sub, err := s.state.GetSubscription(subscriber)
	if err != nil {
		return err
	}
	if discount == nil {
		sub.HasDiscount = false
		sub.Discount = pay.Amount{}
	} else {
		sub.HasDiscount = true
		sub.Discount = *discount
	}
	return s.state.PutSubscription(sub)
}

// RemoveSubscriber deletes a record outright. Admin only.
func (s *Service) RemoveSubscriber(caller, subscriber ids.ShortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	if _, err := s.state.GetSubscription(subscriber); err != nil {
		return err
	}
	s.log.Info("subscriber removed",
		log.Stringer("caller", caller),
		log.Stringer("subscriber", subscriber),
	)
	return s.state.DeleteSubscription(subscriber)
}

// ModifySubscriber overwrites a record's billing checkpoints. Admin only.
func (s *Service) ModifySubscriber(
	caller, subscriber ids.ShortID,
	createdAt, lastCharged, intervalEndAt uint64,
	isCancelled bool,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	if lastCharged < createdAt || intervalEndAt < createdAt {
		return ErrInvalidParam
	}
	sub, err := s.state.GetSubscription(subscriber)
	if err != nil {
		return err
	}
	sub.CreatedAt = createdAt
	sub.LastCharged = lastCharged
	sub.IntervalEndAt = intervalEndAt
	sub.IsCancelled = isCancelled
	return s.state.PutSubscription(sub)
}

// ConfigUpdate carries optional product configuration changes. Nil
// fields are left as they are.
type ConfigUpdate struct {
	Receiver        *ids.ShortID
	InitialAmount   *pay.Amount
	AdditionalGrace *uint64
	URI             *string
}

// UpdateConfig applies a partial configuration update. Admin only.
func (s *Service) UpdateConfig(caller ids.ShortID, update ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if update.Receiver != nil {
		cfg.Receiver = *update.Receiver
	}
	if update.InitialAmount != nil {
		cfg.InitialAmount = *update.InitialAmount
	}
	if update.AdditionalGrace != nil {
		cfg.AdditionalGrace = *update.AdditionalGrace
	}
	if update.URI != nil {
		cfg.URI = *update.URI
	}
	return s.state.PutConfig(cfg)
}

// Pause stops subscribing and charging until Unpause.
func (s *Service) Pause(caller ids.ShortID) error {
	return s.setPaused(caller, true)
}

// Unpause resumes a paused product.
func (s *Service) Unpause(caller ids.ShortID) error {
	return s.setPaused(caller, false)
}

func (s *Service) setPaused(caller ids.ShortID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if cfg.Paused == paused {
		if paused {
			return ErrPaused
		}
		return ErrNotPaused
	}
	cfg.Paused = paused
	s.log.Info("paused state changed",
		log.Stringer("caller", caller),
		log.Bool("paused", paused),
	)
	return s.state.PutConfig(cfg)
}

// Freeze permanently stops subscribing and charging. Admin only, and
// irreversible: subscribers can still cancel their records.
func (s *Service) Freeze(caller ids.ShortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.auth.CanModify(caller) {
		return ErrUnauthorized
	}
	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if cfg.Frozen {
		return ErrFrozen
	}
	cfg.Frozen = true
	s.log.Warn("subscriptions frozen",
		log.Stringer("caller", caller),
	)
	return s.state.PutConfig(cfg)
}
