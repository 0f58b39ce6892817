// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package agreement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/registry"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

var (
	testOwner    = ids.ShortID{0x01}
	testPayer    = ids.ShortID{0x02}
	testReceiver = ids.ShortID{0x03}
	testFeeAddr  = ids.ShortID{0x04}
	testSelf     = ids.ShortID{0x05}

	testStart = int64(1_000_000)
)

type mockClock struct {
	*mockable.Clock
}

func newMockClock(unix int64) *mockClock {
	c := &mockable.Clock{}
	c.Set(time.Unix(unix, 0))
	return &mockClock{Clock: c}
}

func (c *mockClock) advance(seconds uint64) {
	c.Set(c.Time().Add(time.Duration(seconds) * time.Second))
}

func newTestService(t *testing.T, cfg Config, jobs *registry.Registry) (*Service, *mockClock) {
	require := require.New(t)

	cfg.Owner = testOwner
	clock := newMockClock(testStart)
	s, err := New(memdb.New(), log.NewNoOpLogger(), nil, clock.Clock, jobs, testSelf, cfg)
	require.NoError(err)
	return s, clock
}

func defaultParams() CreateParams {
	return CreateParams{
		From:     testPayer,
		To:       testReceiver,
		Asset:    pay.NativeAsset("lux"),
		Amount:   pay.NewAmount(10_000),
		Interval: 3600,
	}
}

func TestCreateValidation(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{
		MinInterval:          600,
		MinAmountPerInterval: *pay.NewAmount(100),
	}, nil)

	p := defaultParams()
	p.To = p.From
	_, _, err := s.Create(p)
	require.ErrorIs(err, ErrSelfPayment)

	p = defaultParams()
	p.Interval = 599
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)

	p = defaultParams()
	p.Amount = pay.NewAmount(99)
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)

	p = defaultParams()
	p.StartAt = uint64(testStart) + 100
	end := uint64(testStart) + 100
	p.EndAt = &end
	_, _, err = s.Create(p)
	require.ErrorIs(err, ErrInvalidParam)
}

func TestCreateChargesImmediately(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{}, nil)

	// A past start time clamps to now and settles the first period on
	// the spot.
	p := defaultParams()
	p.StartAt = uint64(testStart) - 500
	id, instrs, err := s.Create(p)
	require.NoError(err)
	require.Len(instrs, 1)
	require.Equal(pay.NewAmount(10_000), instrs[0].(*pay.Transfer).Amount)

	a, err := s.Get(id)
	require.NoError(err)
	require.Equal(uint64(testStart), a.StartAt)
	require.Equal(uint64(testStart)+3600, a.IntervalDueAt)
}

func TestCreateFutureStartNoCharge(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	p := defaultParams()
	p.StartAt = uint64(testStart) + 1000
	id, instrs, err := s.Create(p)
	require.NoError(err)
	require.Empty(instrs)

	_, err = s.Transfer(id)
	require.ErrorIs(err, ErrNoCharge)

	clock.advance(1000)
	instrs, err = s.Transfer(id)
	require.NoError(err)
	require.Len(instrs, 1)
}

func TestTransferAdvancesOneInterval(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	// First period was settled at creation; nothing more due yet.
	_, err = s.Transfer(id)
	require.ErrorIs(err, ErrNoCharge)

	clock.advance(3600)
	_, err = s.Transfer(id)
	require.NoError(err)

	a, err := s.Get(id)
	require.NoError(err)
	require.Equal(uint64(testStart)+2*3600, a.IntervalDueAt)
	require.Equal(uint64(testStart)+3600, a.LastCharged)

	_, err = s.Transfer(id)
	require.ErrorIs(err, ErrNoCharge)
}

func TestTransferFeeCap(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{
		FeeBPS:     500,
		MaxFee:     *pay.NewAmount(1_000_000),
		FeeAddress: testFeeAddr,
	}, nil)

	p := defaultParams()
	p.Amount = pay.NewAmount(100_000_000)
	p.StartAt = uint64(testStart) + 10
	id, _, err := s.Create(p)
	require.NoError(err)

	// 500 bps of 100M is 5M, capped at 1M.
	clock.advance(10)
	instrs, err := s.Transfer(id)
	require.NoError(err)
	require.Len(instrs, 2)

	fee := instrs[0].(*pay.Transfer)
	require.Equal(testFeeAddr, fee.Recipient)
	require.Equal(pay.NewAmount(1_000_000), fee.Amount)

	net := instrs[1].(*pay.Transfer)
	require.Equal(testReceiver, net.Recipient)
	require.Equal(pay.NewAmount(99_000_000), net.Amount)
}

func TestTransferFeeUnderCap(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{
		FeeBPS:     500,
		MaxFee:     *pay.NewAmount(1_000_000),
		FeeAddress: testFeeAddr,
	}, nil)

	p := defaultParams()
	p.Amount = pay.NewAmount(10_000_000)
	p.StartAt = uint64(testStart) + 10
	id, _, err := s.Create(p)
	require.NoError(err)

	// 500 bps of 10M is 500k, under the cap.
	clock.advance(10)
	instrs, err := s.Transfer(id)
	require.NoError(err)
	require.Equal(pay.NewAmount(500_000), instrs[0].(*pay.Transfer).Amount)
	require.Equal(pay.NewAmount(9_500_000), instrs[1].(*pay.Transfer).Amount)
}

func TestCancelPayerOnly(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{}, nil)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	require.ErrorIs(s.Cancel(testReceiver, id), ErrUnauthorized)
	require.NoError(s.Cancel(testPayer, id))

	_, err = s.Get(id)
	require.ErrorIs(err, ErrNotFound)
}

func TestTerminate(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	anyone := ids.GenerateTestShortID()
	require.ErrorIs(s.Terminate(anyone, id), ErrNotLapsed)

	// More than one interval past due: lapsed, anyone may sweep it.
	clock.advance(2*3600 + 1)
	require.NoError(s.Terminate(anyone, id))
	_, err = s.Get(id)
	require.ErrorIs(err, ErrNotFound)
}

func TestTerminateExpired(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	p := defaultParams()
	end := uint64(testStart) + 100
	p.EndAt = &end
	id, _, err := s.Create(p)
	require.NoError(err)

	clock.advance(100)
	require.NoError(s.Terminate(ids.GenerateTestShortID(), id))
}

func TestPauseAndFreeze(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{}, nil)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	require.ErrorIs(s.Pause(testPayer), ErrUnauthorized)
	require.NoError(s.Pause(testOwner))
	require.ErrorIs(s.Pause(testOwner), ErrPaused)

	_, _, err = s.Create(defaultParams())
	require.ErrorIs(err, ErrPaused)
	_, err = s.Transfer(id)
	require.ErrorIs(err, ErrPaused)

	require.NoError(s.Unpause(testOwner))
	require.ErrorIs(s.Unpause(testOwner), ErrNotPaused)

	// Freezing is one-way and still lets the payer out.
	require.NoError(s.Freeze(testOwner))
	require.ErrorIs(s.Freeze(testOwner), ErrFrozen)
	_, _, err = s.Create(defaultParams())
	require.ErrorIs(err, ErrFrozen)
	require.NoError(s.Cancel(testPayer, id))
}

func TestUpdateConfig(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{}, nil)

	badRate := uint64(501)
	require.ErrorIs(
		s.UpdateConfig(testOwner, ConfigUpdate{FeeBPS: &badRate}),
		ErrInvalidFee,
	)
	require.ErrorIs(
		s.UpdateConfig(testPayer, ConfigUpdate{}),
		ErrUnauthorized,
	)

	rate := uint64(250)
	minInterval := uint64(600)
	require.NoError(s.UpdateConfig(testOwner, ConfigUpdate{
		FeeBPS:      &rate,
		MinInterval: &minInterval,
		FeeAddress:  &testFeeAddr,
	}))

	cfg, err := s.Config()
	require.NoError(err)
	require.Equal(uint64(250), cfg.FeeBPS)
	require.Equal(uint64(600), cfg.MinInterval)

	// Ownership transfer hands over control.
	newOwner := ids.GenerateTestShortID()
	require.NoError(s.UpdateConfig(testOwner, ConfigUpdate{Owner: &newOwner}))
	require.ErrorIs(s.Pause(testOwner), ErrUnauthorized)
	require.NoError(s.Pause(newOwner))
}

func TestByPayerAndReceiver(t *testing.T) {
	require := require.New(t)
	s, _ := newTestService(t, Config{}, nil)

	otherPayer := ids.GenerateTestShortID()
	for i := 0; i < 5; i++ {
		_, _, err := s.Create(defaultParams())
		require.NoError(err)
	}
	p := defaultParams()
	p.From = otherPayer
	_, _, err := s.Create(p)
	require.NoError(err)

	mine, err := s.ByPayer(testPayer, nil, 0)
	require.NoError(err)
	require.Len(mine, 5)
	for i := 1; i < len(mine); i++ {
		require.Less(mine[i-1].ID, mine[i].ID)
	}

	theirs, err := s.ByPayer(otherPayer, nil, 0)
	require.NoError(err)
	require.Len(theirs, 1)

	// All six pay the same receiver; page through with the id cursor.
	first, err := s.ByReceiver(testReceiver, nil, 4)
	require.NoError(err)
	require.Len(first, 4)
	cursor := first[len(first)-1].ID
	rest, err := s.ByReceiver(testReceiver, &cursor, 4)
	require.NoError(err)
	require.Len(rest, 2)
}

func TestWork(t *testing.T) {
	require := require.New(t)

	logger := log.NewNoOpLogger()
	jobs, err := registry.New(memdb.New(), logger, testOwner)
	require.NoError(err)
	_, err = jobs.AddJob(testOwner, testSelf, "agreements")
	require.NoError(err)
	require.NoError(jobs.SetBaseFee(testOwner, pay.NativeAsset("lux"), pay.NewAmount(100)))
	require.NoError(jobs.AddCredits(testSelf, pay.NewAmount(200)))

	registryAddr := ids.ShortID{0x06}
	s, clock := newTestService(t, Config{JobRegistry: registryAddr}, jobs)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	require.False(s.CanWork(id))
	clock.advance(3600)
	require.True(s.CanWork(id))

	worker := ids.GenerateTestShortID()
	instrs, err := s.Work(worker, id)
	require.NoError(err)
	require.Len(instrs, 3)

	receipt := instrs[1].(*pay.WorkReceipt)
	require.Equal(registryAddr, receipt.Registry)
	require.Equal(worker, receipt.Worker)

	payout := instrs[2].(*pay.Transfer)
	require.Equal(testSelf, payout.From)
	require.Equal(pay.NewAmount(100), payout.Amount)
}

func TestWorkInsufficientCredits(t *testing.T) {
	require := require.New(t)

	logger := log.NewNoOpLogger()
	jobs, err := registry.New(memdb.New(), logger, testOwner)
	require.NoError(err)
	_, err = jobs.AddJob(testOwner, testSelf, "agreements")
	require.NoError(err)
	require.NoError(jobs.SetBaseFee(testOwner, pay.NativeAsset("lux"), pay.NewAmount(100)))

	s, clock := newTestService(t, Config{JobRegistry: ids.ShortID{0x06}}, jobs)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)
	clock.advance(3600)

	// No credits: the worker path fails before the due time moves.
	_, err = s.Work(ids.GenerateTestShortID(), id)
	require.ErrorIs(err, registry.ErrInsufficientCredits)

	a, err := s.Get(id)
	require.NoError(err)
	require.Equal(uint64(testStart)+3600, a.IntervalDueAt)

	// The period is still collectible by a plain transfer.
	instrs, err := s.Transfer(id)
	require.NoError(err)
	require.Len(instrs, 1)
}

func TestWorkWithoutRegistry(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	id, _, err := s.Create(defaultParams())
	require.NoError(err)

	clock.advance(3600)
	_, err = s.Work(ids.GenerateTestShortID(), id)
	require.ErrorIs(err, ErrNoRegistry)
}

func TestOverdue(t *testing.T) {
	require := require.New(t)
	s, clock := newTestService(t, Config{}, nil)

	base := uint64(testStart)

	mk := func(startOffset, interval uint64, endAt *uint64) uint64 {
		p := defaultParams()
		p.StartAt = base + startOffset
		p.Interval = interval
		p.EndAt = endAt
		id, _, err := s.Create(p)
		require.NoError(err)
		return id
	}

	// A short-interval agreement that will have lapsed by base+500.
	idLapsed := mk(50, 400, nil)
	// Three healthy agreements with staggered due times.
	idA := mk(100, 3600, nil)
	idB := mk(200, 3600, nil)
	idC := mk(300, 3600, nil)
	// One that expires before the scan time.
	end := base + 450
	idExpired := mk(100, 3600, &end)

	clock.advance(500)

	var got []uint64
	var cursor *DueCursor
	for {
		page, next, err := s.Overdue(base+500, cursor, 2)
		require.NoError(err)
		for _, a := range page {
			got = append(got, a.ID)
		}
		if next == nil {
			break
		}
		cursor = next
	}

	// The lapsed and expired agreements are skipped; the rest come back
	// in ascending due-time order.
	require.NotContains(got, idLapsed)
	require.NotContains(got, idExpired)
	require.Equal([]uint64{idA, idB, idC}, got)
}
