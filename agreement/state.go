// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package agreement

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/codec"
	"github.com/luxfi/payvm/components/index"
)

var (
	configKey = []byte("config")
	idKey     = []byte("agreement_id")

	agreementPrefix = []byte("agreement")
	payerPrefix     = []byte("payer")
	receiverPrefix  = []byte("receiver")
	duePrefix       = []byte("due")
)

// state persists agreements under their numeric id, plus three secondary
// indexes: by payer, by receiver, and by due time. The due index keys
// are big-endian (dueAt, id) pairs so an ascending scan visits
// agreements in settlement order.
type state struct {
	configDB    database.Database
	agreementDB database.Database
	payerDB     database.Database
	receiverDB  database.Database
	dueDB       database.Database
}

func newState(db database.Database) *state {
	return &state{
		configDB:    db,
		agreementDB: prefixdb.New(agreementPrefix, db),
		payerDB:     prefixdb.New(payerPrefix, db),
		receiverDB:  prefixdb.New(receiverPrefix, db),
		dueDB:       prefixdb.New(duePrefix, db),
	}
}

func (s *state) GetConfig() (*Config, error) {
	bytes, err := s.configDB.Get(configKey)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := codec.Codec.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode agreement config: %w", err)
	}
	return cfg, nil
}

func (s *state) PutConfig(cfg *Config) error {
	bytes, err := codec.Codec.Marshal(codec.Version, cfg)
	if err != nil {
		return err
	}
	return s.configDB.Put(configKey, bytes)
}

// NextID hands out the next agreement id, starting at 1.
func (s *state) NextID() (uint64, error) {
	last, err := database.GetUInt64(s.configDB, idKey)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}
	next := last + 1
	return next, database.PutUInt64(s.configDB, idKey, next)
}

func (s *state) GetAgreement(id uint64) (*Agreement, error) {
	bytes, err := s.agreementDB.Get(database.PackUInt64(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a := &Agreement{}
	if _, err := codec.Codec.Unmarshal(bytes, a); err != nil {
		return nil, err
	}
	return a, nil
}

// AddAgreement writes the record and all of its index entries.
func (s *state) AddAgreement(a *Agreement) error {
	if err := s.putRecord(a); err != nil {
		return err
	}
	if err := s.payerDB.Put(addrKey(a.From, a.ID), nil); err != nil {
		return err
	}
	if err := s.receiverDB.Put(addrKey(a.To, a.ID), nil); err != nil {
		return err
	}
	return s.dueDB.Put(dueKey(a.IntervalDueAt, a.ID), nil)
}

// UpdateDueAt persists the record and moves its due-index entry from
// oldDueAt to the record's current due time.
func (s *state) UpdateDueAt(a *Agreement, oldDueAt uint64) error {
	if err := s.putRecord(a); err != nil {
		return err
	}
	if err := s.dueDB.Delete(dueKey(oldDueAt, a.ID)); err != nil {
		return err
	}
	return s.dueDB.Put(dueKey(a.IntervalDueAt, a.ID), nil)
}

// DeleteAgreement removes the record and all of its index entries.
func (s *state) DeleteAgreement(a *Agreement) error {
	if err := s.agreementDB.Delete(database.PackUInt64(a.ID)); err != nil {
		return err
	}
	if err := s.payerDB.Delete(addrKey(a.From, a.ID)); err != nil {
		return err
	}
	if err := s.receiverDB.Delete(addrKey(a.To, a.ID)); err != nil {
		return err
	}
	return s.dueDB.Delete(dueKey(a.IntervalDueAt, a.ID))
}

func (s *state) putRecord(a *Agreement) error {
	bytes, err := codec.Codec.Marshal(codec.Version, a)
	if err != nil {
		return err
	}
	return s.agreementDB.Put(database.PackUInt64(a.ID), bytes)
}

// ByPayer lists agreement ids paid by addr in ascending id order, with
// an exclusive start-after cursor.
func (s *state) ByPayer(addr ids.ShortID, startAfter *uint64, limit uint32) ([]uint64, error) {
	return s.byAddr(s.payerDB, addr, startAfter, limit)
}

// ByReceiver lists agreement ids received by addr in ascending id order,
// with an exclusive start-after cursor.
func (s *state) ByReceiver(addr ids.ShortID, startAfter *uint64, limit uint32) ([]uint64, error) {
	return s.byAddr(s.receiverDB, addr, startAfter, limit)
}

func (s *state) byAddr(db database.Database, addr ids.ShortID, startAfter *uint64, limit uint32) ([]uint64, error) {
	limit = index.ClampLimit(limit)

	start := addr[:]
	if startAfter != nil {
		start = index.NextKey(addrKey(addr, *startAfter))
	}
	iter := db.NewIteratorWithStartAndPrefix(start, addr[:])
	defer iter.Release()

	agreementIDs := make([]uint64, 0, limit)
	for iter.Next() && uint32(len(agreementIDs)) < limit {
		key := iter.Key()
		agreementIDs = append(agreementIDs, binary.BigEndian.Uint64(key[len(addr):]))
	}
	return agreementIDs, iter.Error()
}

// DueCursor marks a position in the due-time index.
type DueCursor struct {
	DueAt uint64
	ID    uint64
}

// DueBefore scans the due index in ascending (dueAt, id) order and
// returns the ids of agreements with dueAt <= bound, paginated with an
// exclusive start-after cursor.
func (s *state) DueBefore(bound uint64, startAfter *DueCursor, limit uint32) ([]uint64, error) {
	limit = index.ClampLimit(limit)

	var start []byte
	if startAfter != nil {
		start = index.NextKey(dueKey(startAfter.DueAt, startAfter.ID))
	}
	iter := s.dueDB.NewIteratorWithStart(start)
	defer iter.Release()

	agreementIDs := make([]uint64, 0, limit)
	for iter.Next() && uint32(len(agreementIDs)) < limit {
		key := iter.Key()
		if binary.BigEndian.Uint64(key[:8]) > bound {
			break
		}
		agreementIDs = append(agreementIDs, binary.BigEndian.Uint64(key[8:]))
	}
	return agreementIDs, iter.Error()
}

func addrKey(addr ids.ShortID, id uint64) []byte {
	key := make([]byte, len(addr)+8)
	copy(key, addr[:])
	binary.BigEndian.PutUint64(key[len(addr):], id)
	return key
}

func dueKey(dueAt, id uint64) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key, dueAt)
	binary.BigEndian.PutUint64(key[8:], id)
	return key
}
