// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package agreement

import (
	"errors"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	safemath "github.com/luxfi/math"
	"github.com/luxfi/metric"

	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/fees"
	"github.com/luxfi/payvm/registry"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

// Config is the persisted service configuration. Paused is a reversible
// circuit breaker; Frozen is one-way and permanently stops creation and
// settlement, leaving payers free to cancel out.
type Config struct {
	Owner                ids.ShortID `serialize:"true" json:"owner"`
	Paused               bool        `serialize:"true" json:"paused"`
	Frozen               bool        `serialize:"true" json:"frozen"`
	MinInterval          uint64      `serialize:"true" json:"minInterval"`
	MinAmountPerInterval pay.Amount  `serialize:"true" json:"minAmountPerInterval"`
	FeeBPS               uint64      `serialize:"true" json:"feeBPS"`
	MaxFee               pay.Amount  `serialize:"true" json:"maxFee"`
	FeeAddress           ids.ShortID `serialize:"true" json:"feeAddress"`
	JobRegistry          ids.ShortID `serialize:"true" json:"jobRegistry"`
}

// Service holds every agreement and the settlement entry points.
// Settlement is permissionless and idempotent: the due time is advanced
// and persisted before any instruction is emitted.
type Service struct {
	mu      sync.Mutex
	log     log.Logger
	clock   *mockable.Clock
	metrics *metrics

	state *state

	// self is this service's identity in the job registry.
	self ids.ShortID
	jobs *registry.Registry
}

// New opens the agreement service over db, storing cfg if no
// configuration exists yet. jobs may be nil when worker upkeep is not
// registered.
func New(
	db database.Database,
	logger log.Logger,
	registerer metric.Registerer,
	clock *mockable.Clock,
	jobs *registry.Registry,
	self ids.ShortID,
	cfg Config,
) (*Service, error) {
	if !fees.ValidRate(cfg.FeeBPS) {
		return nil, ErrInvalidFee
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

// Config returns the current service configuration.
func (s *Service) Config() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetConfig()
}

// CreateParams describes a new agreement. A zero StartAt (or one in the
// past) starts the agreement immediately; EndAt is optional.
type CreateParams struct {
	From     ids.ShortID
	To       ids.ShortID
	Asset    pay.AssetInfo
	Amount   *pay.Amount
	Interval uint64
	StartAt  uint64
	EndAt    *uint64
}

// Create stores a new agreement and attempts an immediate first charge
// when the start time has already arrived. The first charge is best
// effort: the agreement is created either way.
func (s *Service) Create(p CreateParams) (uint64, []pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return 0, nil, err
	}
	if cfg.Frozen {
		return 0, nil, ErrFrozen
	}
	if cfg.Paused {
		return 0, nil, ErrPaused
	}
	if p.From == p.To {
		return 0, nil, ErrSelfPayment
	}
	if err := p.Asset.Verify(); err != nil {
		return 0, nil, err
	}
	if p.Amount == nil || p.Amount.IsZero() || p.Amount.Lt(&cfg.MinAmountPerInterval) {
		return 0, nil, ErrInvalidParam
	}
	if p.Interval == 0 || p.Interval < cfg.MinInterval {
		return 0, nil, ErrInvalidParam
	}

	now := s.clock.Unix()
	startAt := p.StartAt
	if startAt < now {
		startAt = now
	}
	if p.EndAt != nil && *p.EndAt <= startAt {
		return 0, nil, ErrInvalidParam
	}

	id, err := s.state.NextID()
	if err != nil {
		return 0, nil, err
	}
	a := &Agreement{
		ID:            id,
		From:          p.From,
		To:            p.To,
		Asset:         p.Asset,
		Amount:        *p.Amount,
		CreatedAt:     now,
		Interval:      p.Interval,
		IntervalDueAt: startAt,
		StartAt:       startAt,
	}
	if p.EndAt != nil {
		a.HasEndAt = true
		a.EndAt = *p.EndAt
	}
	if err := s.state.AddAgreement(a); err != nil {
		return 0, nil, err
	}
	s.metrics.numCreated.Inc()
	s.log.Info("agreement created",
		log.Uint64("id", id),
		log.Stringer("from", a.From),
		log.Stringer("to", a.To),
		log.Uint64("interval", a.Interval),
	)

	if !a.HasCharge(now) {
		return id, nil, nil
	}
	instrs, err := s.settle(cfg, a, now)
	if err != nil {
		// The first charge is best effort.
		s.log.Warn("initial agreement charge failed",
			log.Uint64("id", id),
			log.String("error", err.Error()),
		)
		return id, nil, nil
	}
	return id, instrs, nil
}

// Transfer settles exactly one period of the agreement. Any caller may
// invoke it; the payer is always the agreement's From account.
func (s *Service) Transfer(id uint64) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfer(id)
}

func (s *Service) transfer(id uint64) ([]pay.Instruction, error) {
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

	a, err := s.state.GetAgreement(id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Unix()
	if !a.HasCharge(now) {
		return nil, ErrNoCharge
	}
	return s.settle(cfg, a, now)
}

// settle advances the due time by one interval, persists, and emits the
// fee-split transfer instructions.
func (s *Service) settle(cfg *Config, a *Agreement, now uint64) ([]pay.Instruction, error) {
	fee, err := fees.WithCap(cfg.FeeBPS, &cfg.MaxFee, &a.Amount)
	if err != nil {
		return nil, err
	}

	oldDue := a.IntervalDueAt
	next, err := safemath.Add64(a.IntervalDueAt, a.Interval)
	if err != nil {
		return nil, err
	}
	// Persist the advanced due time before emitting anything so a
	// replay finds nothing due.
	a.IntervalDueAt = next
	a.LastCharged = now
	if err := s.state.UpdateDueAt(a, oldDue); err != nil {
		return nil, err
	}

	amount := new(pay.Amount).Set(&a.Amount)
	var instrs []pay.Instruction
	if fee != nil && !fee.IsZero() {
		instrs = append(instrs, &pay.Transfer{
			From:      a.From,
			Recipient: cfg.FeeAddress,
			Asset:     a.Asset,
			Amount:    fee,
		})
		amount.Sub(amount, fee)
	}
	if !amount.IsZero() {
		instrs = append(instrs, &pay.Transfer{
			From:      a.From,
			Recipient: a.To,
			Asset:     a.Asset,
			Amount:    amount,
		})
	}

	s.metrics.numTransfers.Inc()
	s.log.Info("agreement settled",
		log.Uint64("id", a.ID),
		log.Uint64("dueAt", a.IntervalDueAt),
	)
	return instrs, nil
}

// Cancel deletes the agreement. Only the payer may cancel, and may do so
// at any time, including while the service is paused or frozen.
func (s *Service) Cancel(caller ids.ShortID, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.state.GetAgreement(id)
	if err != nil {
		return err
	}
	if caller != a.From {
		return ErrUnauthorized
	}
	if err := s.state.DeleteAgreement(a); err != nil {
		return err
	}
	s.metrics.numCancelled.Inc()
	s.log.Info("agreement cancelled",
		log.Uint64("id", id),
		log.Stringer("caller", caller),
	)
	return nil
}

// Terminate deletes a lapsed or expired agreement. Anyone may call it;
// dead agreements are garbage anyone can sweep.
func (s *Service) Terminate(caller ids.ShortID, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.state.GetAgreement(id)
	if err != nil {
		return err
	}
	now := s.clock.Unix()
	switch a.StatusAt(now) {
	case Lapsed, Expired:
	default:
		return ErrNotLapsed
	}
	if err := s.state.DeleteAgreement(a); err != nil {
		return err
	}
	s.metrics.numTerminated.Inc()
	s.log.Info("agreement terminated",
		log.Uint64("id", id),
		log.Stringer("caller", caller),
	)
	return nil
}

// Work is Transfer plus a work receipt crediting the worker at the job
// registry. It requires a registry to be configured.
func (s *Service) Work(worker ids.ShortID, id uint64) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return nil, err
	}
	if s.jobs == nil || cfg.JobRegistry == ids.ShortEmpty {
		return nil, ErrNoRegistry
	}
	// The receipt must be collectible before the due time moves: a
	// deduction failure after settlement would mark the period paid
	// with no value moved.
	if err := s.jobs.CanReceipt(s.self); err != nil {
		return nil, err
	}

	instrs, err := s.transfer(id)
	if err != nil {
		return nil, err
	}
	payout, err := s.jobs.WorkReceipt(s.self, worker)
	if err != nil {
		return nil, err
	}
	instrs = append(instrs, &pay.WorkReceipt{
		Registry: cfg.JobRegistry,
		Worker:   worker,
	})
	if payout != nil {
		instrs = append(instrs, payout)
	}
	s.metrics.numWork.Inc()
	return instrs, nil
}

// CanWork reports whether a worker-initiated settlement of id would
// transfer one period right now.
func (s *Service) CanWork(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil || cfg.Paused || cfg.Frozen {
		return false
	}
	a, err := s.state.GetAgreement(id)
	if err != nil {
		return false
	}
	return a.HasCharge(s.clock.Unix())
}

// Get returns the agreement with the given id.
func (s *Service) Get(id uint64) (*Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetAgreement(id)
}

// ByPayer lists agreements paid by addr in ascending id order.
func (s *Service) ByPayer(addr ids.ShortID, startAfter *uint64, limit uint32) ([]*Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agreementIDs, err := s.state.ByPayer(addr, startAfter, limit)
	if err != nil {
		return nil, err
	}
	return s.load(agreementIDs)
}

// ByReceiver lists agreements received by addr in ascending id order.
func (s *Service) ByReceiver(addr ids.ShortID, startAfter *uint64, limit uint32) ([]*Agreement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agreementIDs, err := s.state.ByReceiver(addr, startAfter, limit)
	if err != nil {
		return nil, err
	}
	return s.load(agreementIDs)
}

func (s *Service) load(agreementIDs []uint64) ([]*Agreement, error) {
	agreements := make([]*Agreement, 0, len(agreementIDs))
	for _, id := range agreementIDs {
		a, err := s.state.GetAgreement(id)
		if err != nil {
			return nil, err
		}
		agreements = append(agreements, a)
	}
	return agreements, nil
}

// Overdue lists currently-Active agreements with a due time at or before
// bound, in ascending (dueAt, id) order. The returned cursor marks the
// last index entry examined: pages may come back short when lapsed or
// expired agreements were skipped, so callers paginate until the cursor
// is nil.
func (s *Service) Overdue(bound uint64, startAfter *DueCursor, limit uint32) ([]*Agreement, *DueCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	agreementIDs, err := s.state.DueBefore(bound, startAfter, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(agreementIDs) == 0 {
		return nil, nil, nil
	}

	now := s.clock.Unix()
	agreements := make([]*Agreement, 0, len(agreementIDs))
	var cursor *DueCursor
	for _, id := range agreementIDs {
		a, err := s.state.GetAgreement(id)
		if err != nil {
			return nil, nil, err
		}
		cursor = &DueCursor{DueAt: a.IntervalDueAt, ID: a.ID}
		if a.StatusAt(now) != Active {
			continue
		}
		agreements = append(agreements, a)
	}
	return agreements, cursor, nil
}

// ConfigUpdate carries optional configuration changes. Nil fields are
// left as they are.
type ConfigUpdate struct {
	Owner                *ids.ShortID
	MinInterval          *uint64
	MinAmountPerInterval *pay.Amount
	FeeBPS               *uint64
	MaxFee               *pay.Amount
	FeeAddress           *ids.ShortID
	JobRegistry          *ids.ShortID
}

// UpdateConfig applies a partial configuration update. Owner only; the
// fee rate is validated at set time.
func (s *Service) UpdateConfig(caller ids.ShortID, update ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return ErrUnauthorized
	}
	if update.FeeBPS != nil && !fees.ValidRate(*update.FeeBPS) {
		return ErrInvalidFee
	}

	if update.Owner != nil {
		cfg.Owner = *update.Owner
	}
	if update.MinInterval != nil {
		cfg.MinInterval = *update.MinInterval
	}
	if update.MinAmountPerInterval != nil {
		cfg.MinAmountPerInterval = *update.MinAmountPerInterval
	}
	if update.FeeBPS != nil {
		cfg.FeeBPS = *update.FeeBPS
	}
	if update.MaxFee != nil {
		cfg.MaxFee = *update.MaxFee
	}
	if update.FeeAddress != nil {
		cfg.FeeAddress = *update.FeeAddress
	}
	if update.JobRegistry != nil {
		cfg.JobRegistry = *update.JobRegistry
	}
	return s.state.PutConfig(cfg)
}

// Pause stops creation and settlement until Unpause.
func (s *Service) Pause(caller ids.ShortID) error {
	return s.setPaused(caller, true)
}

// Unpause resumes a paused service.
func (s *Service) Unpause(caller ids.ShortID) error {
	return s.setPaused(caller, false)
}

func (s *Service) setPaused(caller ids.ShortID, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return ErrUnauthorized
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

// Freeze permanently stops creation and settlement. Owner only, and
// irreversible: payers can still cancel out of their agreements.
func (s *Service) Freeze(caller ids.ShortID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.state.GetConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return ErrUnauthorized
	}
	if cfg.Frozen {
		return ErrFrozen
	}
	cfg.Frozen = true
	s.log.Warn("agreements frozen",
		log.Stringer("caller", caller),
	)
	return s.state.PutConfig(cfg)
}
