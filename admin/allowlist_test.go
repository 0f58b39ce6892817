// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package admin

import (
	"testing"

	"github.com/luxfi/database/memdb"
	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestAllowlistAuthorization(t *testing.T) {
	owner := ids.ShortID{1}
	adminAddr := ids.ShortID{2}
	stranger := ids.ShortID{3}

	a, err := New(memdb.New(), owner, []ids.ShortID{adminAddr}, true)
	require.NoError(t, err)

	require.True(t, a.CanModify(owner))
	require.True(t, a.CanModify(adminAddr))
	require.False(t, a.CanModify(stranger))
}

func TestAllowlistUpdateAdmins(t *testing.T) {
	owner := ids.ShortID{1}
	adminAddr := ids.ShortID{2}

	a, err := New(memdb.New(), owner, nil, true)
	require.NoError(t, err)

	// Admins cannot update the list, only the owner can.
	require.ErrorIs(t, a.UpdateAdmins(adminAddr, []ids.ShortID{adminAddr}), ErrUnauthorized)

	require.NoError(t, a.UpdateAdmins(owner, []ids.ShortID{adminAddr}))
	require.True(t, a.CanModify(adminAddr))

	require.NoError(t, a.Freeze(owner))
	require.ErrorIs(t, a.UpdateAdmins(owner, nil), ErrFrozen)
}

func TestAllowlistImmutableFromCreation(t *testing.T) {
	owner := ids.ShortID{1}

	a, err := New(memdb.New(), owner, nil, false)
	require.NoError(t, err)
	require.ErrorIs(t, a.UpdateAdmins(owner, []ids.ShortID{{9}}), ErrFrozen)
}

func TestAllowlistPersistence(t *testing.T) {
	db := memdb.New()
	owner := ids.ShortID{1}
	adminAddr := ids.ShortID{2}

	_, err := New(db, owner, []ids.ShortID{adminAddr}, true)
	require.NoError(t, err)

	restored, err := Load(db)
	require.NoError(t, err)
	require.Equal(t, owner, restored.Owner())
	require.True(t, restored.CanModify(adminAddr))
}

func TestAllowlistBoundedSize(t *testing.T) {
	admins := make([]ids.ShortID, MaxAdmins+1)
	for i := range admins {
		admins[i] = ids.ShortID{byte(i + 1)}
	}
	_, err := New(memdb.New(), ids.ShortID{1}, admins, true)
	require.ErrorIs(t, err, ErrTooManyAdmins)
}
