// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

var (
	testSender   = ids.ShortID{0x01}
	testReceiver = ids.ShortID{0x02}
	testEscrow   = ids.ShortID{0x03}

	testStart = int64(1_000_000)
)

func newTestService(t *testing.T) (*Service, *mockable.Clock) {
	require := require.New(t)

	clock := &mockable.Clock{}
	clock.Set(time.Unix(testStart, 0))
	s, err := New(memdb.New(), log.NewNoOpLogger(), nil, clock, testEscrow)
	require.NoError(err)
	return s, clock
}

func advance(clock *mockable.Clock, seconds uint64) {
	clock.Set(clock.Time().Add(time.Duration(seconds) * time.Second))
}

func defaultParams() CreateParams {
	return CreateParams{
		Sender:    testSender,
		Receiver:  testReceiver,
		Asset:     pay.NativeAsset("lux"),
		Principal: pay.NewAmount(1000),
		Deposit:   pay.NewAmount(1000),
		StartAt:   uint64(testStart),
		EndAt:     uint64(testStart) + 1000,
	}
}

func TestCreateValidation(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)

	p := defaultParams()
	p.Receiver = p.Sender
	_, _, err := s.Create(p)
	require.ErrorIs(err, ErrSelfStream)

	p = defaultParams()
	p.Principal = pay.ZeroAmount()
	p.Deposit = pay.ZeroAmount()
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)

	p = defaultParams()
	p.Deposit = pay.NewAmount(999)
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrDepositMismatch)

	p = defaultParams()
	p.StartAt = uint64(testStart) - 1
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)

	p = defaultParams()
	p.EndAt = p.StartAt
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)
}

func TestCreateDefaultStart(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)

	// An absent start time resolves to the current time.
	p := defaultParams()
	p.StartAt = 0
	id, _, err := s.Create(p)
	require.NoError(err)

	st, err := s.Get(id)
	require.NoError(err)
	require.Equal(uint64(testStart), st.StartAt)
}

func TestCreateEscrowsDeposit(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)

	id, instrs, err := s.Create(defaultParams())
	require.NoError(err)
	require.Len(instrs, 1)

	deposit := instrs[0].(*pay.Transfer)
	require.Equal(testSender, deposit.From)
	require.Equal(testEscrow, deposit.Recipient)
	require.Equal(pay.NewAmount(1000), deposit.Amount)

	st, err := s.Get(id)
	require.NoError(err)
	require.Equal(*pay.NewAmount(1000), st.Remaining)
}

// 1000 tokens over 1000 seconds: at 10% the receiver can claim 100 and
// the sender retains 900; after withdrawing the 100, at 33% the
// receiver's claim is 230.
func TestWithdrawScenario(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	advance(clock, 100)
	receiver, err := s.Balance(id, testReceiver)
	require.NoError(err)
	require.Equal(pay.NewAmount(100), receiver)
	sender, err := s.Balance(id, testSender)
	require.NoError(err)
	require.Equal(pay.NewAmount(900), sender)

	instrs, err := s.Withdraw(id, pay.NewAmount(100))
	require.NoError(err)
	require.Len(instrs, 1)
	payout := instrs[0].(*pay.Transfer)
	require.Equal(testEscrow, payout.From)
	require.Equal(testReceiver, payout.Recipient)
	require.Equal(pay.NewAmount(100), payout.Amount)

	// Nothing more has vested yet.
	_, err = s.Withdraw(id, nil)
	require.ErrorIs(err, ErrNoBalance)

	advance(clock, 230)
	receiver, err = s.Balance(id, testReceiver)
	require.NoError(err)
	require.Equal(pay.NewAmount(230), receiver)
}

func TestWithdrawBounds(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	_, err = s.Withdraw(id, nil)
	require.ErrorIs(err, ErrNoBalance)

	advance(clock, 100)
	_, err = s.Withdraw(id, pay.NewAmount(101))
	require.ErrorIs(err, ErrExcessWithdraw)
	_, err = s.Withdraw(id, pay.ZeroAmount())
	require.ErrorIs(err, ErrNoBalance)
}

func TestWithdrawDrainDeletes(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	// Past the end everything has vested; a nil amount takes it all and
	// the drained stream is deleted.
	advance(clock, 2000)
	instrs, err := s.Withdraw(id, nil)
	require.NoError(err)
	require.Equal(pay.NewAmount(1000), instrs[0].(*pay.Transfer).Amount)

	_, err = s.Get(id)
	require.ErrorIs(err, ErrNotFound)
}

func TestCancelSettlesBothSides(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	_, err = s.Cancel(ids.GenerateTestShortID(), id)
	require.ErrorIs(err, ErrUnauthorized)

	advance(clock, 330)
	_, err = s.Withdraw(id, pay.NewAmount(100))
	require.NoError(err)

	instrs, err := s.Cancel(testReceiver, id)
	require.NoError(err)
	require.Len(instrs, 2)

	toReceiver := instrs[0].(*pay.Transfer)
	require.Equal(testReceiver, toReceiver.Recipient)
	require.Equal(pay.NewAmount(230), toReceiver.Amount)

	toSender := instrs[1].(*pay.Transfer)
	require.Equal(testSender, toSender.Recipient)
	require.Equal(pay.NewAmount(670), toSender.Amount)

	_, err = s.Get(id)
	require.ErrorIs(err, ErrNotFound)
}

func TestCancelBeforeStart(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)

	p := defaultParams()
	p.StartAt = uint64(testStart) + 500
	p.EndAt = uint64(testStart) + 1500
	id, _, err := s.Create(p)
	require.NoError(err)

	// Nothing vested: the whole principal flows back to the sender.
	instrs, err := s.Cancel(testSender, id)
	require.NoError(err)
	require.Len(instrs, 1)
	refund := instrs[0].(*pay.Transfer)
	require.Equal(testSender, refund.Recipient)
	require.Equal(pay.NewAmount(1000), refund.Amount)
}

func TestListings(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t)

	otherSender := ids.ShortID{0x0a}
	token := pay.TokenAsset(ids.ShortID{0x0b})

	for i := 0; i < 3; i++ {
		_, _, err := s.Create(defaultParams())
		require.NoError(err)
	}
	p := defaultParams()
	p.Sender = otherSender
	p.Asset = token
	_, _, err := s.Create(p)
	require.NoError(err)

	bySender, err := s.BySender(testSender, nil, 0)
	require.NoError(err)
	require.Len(bySender, 3)

	byReceiver, err := s.ByReceiver(testReceiver, nil, 0)
	require.NoError(err)
	require.Len(byReceiver, 4)

	byToken, err := s.ByAsset(token, nil, 0)
	require.NoError(err)
	require.Len(byToken, 1)
	require.Equal(otherSender, byToken[0].Sender)

	native, err := s.ByAsset(pay.NativeAsset("lux"), nil, 0)
	require.NoError(err)
	require.Len(native, 3)

	// Cursor pagination over the receiver index.
	first, err := s.ByReceiver(testReceiver, nil, 2)
	require.NoError(err)
	require.Len(first, 2)
	cursor := first[len(first)-1].ID
	rest, err := s.ByReceiver(testReceiver, &cursor, 0)
	require.NoError(err)
	require.Len(rest, 2)
}
