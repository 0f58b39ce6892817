// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package admin implements the ownership gate consumed by the settlement
// orchestrators: a single owner plus a bounded admin list, with a
// mutability flag that freezes further changes to the list.
package admin

import (
	"errors"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/codec"
)

const MaxAdmins = 10

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrFrozen        = errors.New("admin list is frozen")
	ErrTooManyAdmins = errors.New("admin list exceeds maximum size")

	configKey = []byte("admin_config")
)

// Authorizer is the yes/no authorization check the payment primitives
// consume. They never inspect the list itself.
type Authorizer interface {
	// CanModify reports whether addr may perform privileged operations.
	CanModify(addr ids.ShortID) bool
}

// Config is the persisted owner and admin set.
type Config struct {
	Owner   ids.ShortID   `serialize:"true" json:"owner"`
	Admins  []ids.ShortID `serialize:"true" json:"admins"`
	Mutable bool          `serialize:"true" json:"mutable"`
}

func (c *Config) isAdmin(addr ids.ShortID) bool {
	for _, admin := range c.Admins {
		if admin == addr {
			return true
		}
	}
	return false
}

// Allowlist persists a Config and answers authorization checks.
type Allowlist struct {
	mu  sync.RWMutex
	db  database.Database
	cfg Config
}

var _ Authorizer = (*Allowlist)(nil)

// New creates an allowlist with the given owner and initial admins.
func New(db database.Database, owner ids.ShortID, admins []ids.ShortID, mutable bool) (*Allowlist, error) {
	if len(admins) > MaxAdmins {
		return nil, ErrTooManyAdmins
	}
	a := &Allowlist{
		db: db,
		cfg: Config{
			Owner:   owner,
			Admins:  admins,
			Mutable: mutable,
		},
	}
	if err := a.store(); err != nil {
		return nil, err
	}
	return a, nil
}

// Load restores a previously stored allowlist.
func Load(db database.Database) (*Allowlist, error) {
	bytes, err := db.Get(configKey)
	if err != nil {
		return nil, err
	}
	a := &Allowlist{db: db}
	if _, err := codec.Codec.Unmarshal(bytes, &a.cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allowlist) store() error {
	bytes, err := codec.Codec.Marshal(codec.Version, &a.cfg)
	if err != nil {
		return err
	}
	return a.db.Put(configKey, bytes)
}

// Owner returns the owner address.
func (a *Allowlist) Owner() ids.ShortID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Owner
}

// CanModify reports whether addr is the owner or one of the admins.
func (a *Allowlist) CanModify(addr ids.ShortID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return addr == a.cfg.Owner || a.cfg.isAdmin(addr)
}

// UpdateAdmins replaces the admin list. Only the owner may do this, and
// only while the list is mutable.
func (a *Allowlist) UpdateAdmins(caller ids.ShortID, admins []ids.ShortID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.cfg.Owner {
		return ErrUnauthorized
	}
	if !a.cfg.Mutable {
		return ErrFrozen
	}
	if len(admins) > MaxAdmins {
		return ErrTooManyAdmins
	}

	a.cfg.Admins = admins
	return a.store()
}

// Freeze permanently disables further admin list changes. Owner only.
func (a *Allowlist) Freeze(caller ids.ShortID) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.cfg.Owner {
		return ErrUnauthorized
	}
	a.cfg.Mutable = false
	return a.store()
}
