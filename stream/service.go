// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

// Service holds every stream and its escrow identity. Deposits move
// into the escrow account at creation; withdrawals and cancellations
// move value back out of it.
type Service struct {
	mu      sync.Mutex
	log     log.Logger
	clock   *mockable.Clock
	metrics *metrics

	state *state

	// escrow is the account holding every stream's remaining principal.
	escrow ids.ShortID
}

// New opens the stream service over db.
func New(
	db database.Database,
	logger log.Logger,
	registerer metric.Registerer,
	clock *mockable.Clock,
	escrow ids.ShortID,
) (*Service, error) {
	m, err := newMetrics(registerer)
	if err != nil {
		return nil, err
	}
	return &Service{
		log:     logger,
		clock:   clock,
		metrics: m,
		state:   newState(db),
		escrow:  escrow,
	}, nil
}

// CreateParams describes a new stream. Deposit is the amount actually
// put up by the sender and must equal Principal exactly. A zero
// StartAt starts the stream immediately; an explicit start time must
// not be in the past.
type CreateParams struct {
	Sender    ids.ShortID
	Receiver  ids.ShortID
	Asset     pay.AssetInfo
	Principal *pay.Amount
	Deposit   *pay.Amount
	StartAt   uint64
	EndAt     uint64
}

// Create stores a new stream and emits the escrow deposit instruction.
func (s *Service) Create(p CreateParams) (uint64, []pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Sender == p.Receiver {
		return 0, nil, ErrSelfStream
	}
	if err := p.Asset.Verify(); err != nil {
		return 0, nil, err
	}
	if p.Principal == nil || p.Principal.IsZero() {
		return 0, nil, ErrInvalidParam
	}
	if p.Deposit == nil || !p.Deposit.Eq(p.Principal) {
		return 0, nil, ErrDepositMismatch
	}

	now := s.clock.Unix()
	startAt := p.StartAt
	if startAt == 0 {
		startAt = now
	} else if startAt < now {
		return 0, nil, ErrInvalidParam
	}
	if p.EndAt <= startAt {
		return 0, nil, ErrInvalidParam
	}

	id, err := s.state.NextID()
	if err != nil {
		return 0, nil, err
	}
	st := &Stream{
		ID:        id,
		Sender:    p.Sender,
		Receiver:  p.Receiver,
		Asset:     p.Asset,
		Principal: *p.Principal,
		Remaining: *p.Principal,
		StartAt:   startAt,
		EndAt:     p.EndAt,
	}
	if err := s.state.AddStream(st); err != nil {
		return 0, nil, err
	}
	s.metrics.numCreated.Inc()
	s.log.Info("stream created",
		log.Uint64("id", id),
		log.Stringer("sender", st.Sender),
		log.Stringer("receiver", st.Receiver),
		log.Uint64("startAt", st.StartAt),
		log.Uint64("endAt", st.EndAt),
	)

	return id, []pay.Instruction{&pay.Transfer{
		From:      p.Sender,
		Recipient: s.escrow,
		Asset:     p.Asset,
		Amount:    new(pay.Amount).Set(p.Principal),
	}}, nil
}

// Withdraw pays vested funds out of escrow to the stream's receiver.
// Any caller may trigger it; a nil amount withdraws the full receiver
// balance. A stream whose remaining principal hits zero is deleted.
func (s *Service) Withdraw(id uint64, amount *pay.Amount) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state.GetStream(id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Unix()
	balance, err := st.receiverBalance(now)
	if err != nil {
		return nil, err
	}
	if balance.IsZero() {
		return nil, ErrNoBalance
	}
	if amount == nil {
		amount = balance
	} else if amount.IsZero() {
		return nil, ErrNoBalance
	} else if amount.Gt(balance) {
		return nil, ErrExcessWithdraw
	}

	st.Remaining.Sub(&st.Remaining, amount)
	if st.Remaining.IsZero() {
		if err := s.state.DeleteStream(st); err != nil {
			return nil, err
		}
		s.metrics.numCompleted.Inc()
	} else if err := s.state.PutStream(st); err != nil {
		return nil, err
	}

	s.metrics.numWithdrawals.Inc()
	s.log.Info("stream withdrawal",
		log.Uint64("id", id),
		log.String("amount", amount.String()),
	)
	return []pay.Instruction{&pay.Transfer{
		From:      s.escrow,
		Recipient: st.Receiver,
		Asset:     st.Asset,
		Amount:    amount,
	}}, nil
}

// Cancel settles both sides at the vested split and deletes the stream.
// Only the sender or the receiver may cancel.
func (s *Service) Cancel(caller ids.ShortID, id uint64) ([]pay.Instruction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state.GetStream(id)
	if err != nil {
		return nil, err
	}
	if caller != st.Sender && caller != st.Receiver {
		return nil, ErrUnauthorized
	}

	now := s.clock.Unix()
	receiverDue, err := st.receiverBalance(now)
	if err != nil {
		return nil, err
	}
	senderDue := new(pay.Amount).Sub(&st.Remaining, receiverDue)

	if err := s.state.DeleteStream(st); err != nil {
		return nil, err
	}
	s.metrics.numCancelled.Inc()
	s.log.Info("stream cancelled",
		log.Uint64("id", id),
		log.Stringer("caller", caller),
		log.String("receiverDue", receiverDue.String()),
		log.String("senderDue", senderDue.String()),
	)

	var instrs []pay.Instruction
	if !receiverDue.IsZero() {
		instrs = append(instrs, &pay.Transfer{
			From:      s.escrow,
			Recipient: st.Receiver,
			Asset:     st.Asset,
			Amount:    receiverDue,
		})
	}
	if !senderDue.IsZero() {
		instrs = append(instrs, &pay.Transfer{
			From:      s.escrow,
			Recipient: st.Sender,
			Asset:     st.Asset,
			Amount:    senderDue,
		})
	}
	return instrs, nil
}

// Get returns the stream with the given id.
func (s *Service) Get(id uint64) (*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.GetStream(id)
}

// Balance returns what addr could claim from stream id right now.
func (s *Service) Balance(id uint64, addr ids.ShortID) (*pay.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.state.GetStream(id)
	if err != nil {
		return nil, err
	}
	return st.BalanceOf(addr, s.clock.Unix())
}

// BySender lists streams sent by addr in ascending id order.
func (s *Service) BySender(addr ids.ShortID, startAfter *uint64, limit uint32) ([]*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamIDs, err := s.state.BySender(addr, startAfter, limit)
	if err != nil {
		return nil, err
	}
	return s.load(streamIDs)
}

// ByReceiver lists streams received by addr in ascending id order.
func (s *Service) ByReceiver(addr ids.ShortID, startAfter *uint64, limit uint32) ([]*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamIDs, err := s.state.ByReceiver(addr, startAfter, limit)
	if err != nil {
		return nil, err
	}
	return s.load(streamIDs)
}

// ByAsset lists streams denominated in asset in ascending id order.
func (s *Service) ByAsset(asset pay.AssetInfo, startAfter *uint64, limit uint32) ([]*Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	streamIDs, err := s.state.ByAsset(asset, startAfter, limit)
	if err != nil {
		return nil, err
	}
	return s.load(streamIDs)
}

func (s *Service) load(streamIDs []uint64) ([]*Stream, error) {
	streams := make([]*Stream, 0, len(streamIDs))
	for _, id := range streamIDs {
		st, err := s.state.GetStream(id)
		if err != nil {
			return nil, err
		}
		streams = append(streams, st)
	}
	return streams, nil
}
