// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/components/pay"
)

func TestStreamedClamps(t *testing.T) {
	require := require.New(t)

	st := &Stream{
		Principal: *pay.NewAmount(1000),
		Remaining: *pay.NewAmount(1000),
		StartAt:   100,
		EndAt:     1100,
	}

	for _, tt := range []struct {
		now  uint64
		want uint64
	}{
		{now: 0, want: 0},
		{now: 100, want: 0},
		{now: 101, want: 1},
		{now: 600, want: 500},
		{now: 1100, want: 1000},
		{now: 5000, want: 1000},
	} {
		got, err := st.Streamed(tt.now)
		require.NoError(err)
		require.Equal(pay.NewAmount(tt.want), got, "now=%d", tt.now)
	}
}

func TestStreamedTruncates(t *testing.T) {
	require := require.New(t)

	st := &Stream{
		Principal: *pay.NewAmount(100),
		Remaining: *pay.NewAmount(100),
		StartAt:   0,
		EndAt:     3,
	}

	// 100 * 1 / 3 truncates toward zero.
	got, err := st.Streamed(1)
	require.NoError(err)
	require.Equal(pay.NewAmount(33), got)

	got, err = st.Streamed(2)
	require.NoError(err)
	require.Equal(pay.NewAmount(66), got)

	got, err = st.Streamed(3)
	require.NoError(err)
	require.Equal(pay.NewAmount(100), got)
}

func TestBalanceOfConservation(t *testing.T) {
	require := require.New(t)

	st := &Stream{
		Sender:    ids.ShortID{0x01},
		Receiver:  ids.ShortID{0x02},
		Principal: *pay.NewAmount(997),
		Remaining: *pay.NewAmount(997),
		StartAt:   0,
		EndAt:     7,
	}

	// At every instant the two balances sum to the remaining principal.
	for now := uint64(0); now <= 10; now++ {
		sender, err := st.BalanceOf(st.Sender, now)
		require.NoError(err)
		receiver, err := st.BalanceOf(st.Receiver, now)
		require.NoError(err)

		sum := new(pay.Amount).Add(sender, receiver)
		require.Equal(&st.Remaining, sum, "now=%d", now)
	}

	// A stranger has no claim.
	other, err := st.BalanceOf(ids.ShortID{0x03}, 3)
	require.NoError(err)
	require.True(other.IsZero())
}
