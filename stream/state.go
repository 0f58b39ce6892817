// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"encoding/binary"
	"errors"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/codec"
	"github.com/luxfi/payvm/components/index"
	"github.com/luxfi/payvm/components/pay"
)

var (
	idKey = []byte("stream_id")

	streamPrefix   = []byte("stream")
	senderPrefix   = []byte("sender")
	receiverPrefix = []byte("receiver")
	assetPrefix    = []byte("asset")
)

// state persists streams under their numeric id plus three secondary
// indexes: by sender, by receiver, and by asset.
type state struct {
	baseDB     database.Database
	streamDB   database.Database
	senderDB   database.Database
	receiverDB database.Database
	assetDB    database.Database
}

func newState(db database.Database) *state {
	return &state{
		baseDB:     db,
		streamDB:   prefixdb.New(streamPrefix, db),
		senderDB:   prefixdb.New(senderPrefix, db),
		receiverDB: prefixdb.New(receiverPrefix, db),
		assetDB:    prefixdb.New(assetPrefix, db),
	}
}

// NextID hands out the next stream id, starting at 1.
func (s *state) NextID() (uint64, error) {
	last, err := database.GetUInt64(s.baseDB, idKey)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return 0, err
	}
	next := last + 1
	return next, database.PutUInt64(s.baseDB, idKey, next)
}

func (s *state) GetStream(id uint64) (*Stream, error) {
	bytes, err := s.streamDB.Get(database.PackUInt64(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	st := &Stream{}
	if _, err := codec.Codec.Unmarshal(bytes, st); err != nil {
		return nil, err
	}
	return st, nil
}

// PutStream writes the record; index entries are keyed by immutable
// fields, so rewriting an existing record leaves them valid.
func (s *state) PutStream(st *Stream) error {
	bytes, err := codec.Codec.Marshal(codec.Version, st)
	if err != nil {
		return err
	}
	return s.streamDB.Put(database.PackUInt64(st.ID), bytes)
}

// AddStream writes the record and all of its index entries.
func (s *state) AddStream(st *Stream) error {
	if err := s.PutStream(st); err != nil {
		return err
	}
	if err := s.senderDB.Put(addrKey(st.Sender, st.ID), nil); err != nil {
		return err
	}
	if err := s.receiverDB.Put(addrKey(st.Receiver, st.ID), nil); err != nil {
		return err
	}
	return s.assetDB.Put(assetKey(st.Asset, st.ID), nil)
}

// DeleteStream removes the record and all of its index entries.
func (s *state) DeleteStream(st *Stream) error {
	if err := s.streamDB.Delete(database.PackUInt64(st.ID)); err != nil {
		return err
	}
	if err := s.senderDB.Delete(addrKey(st.Sender, st.ID)); err != nil {
		return err
	}
	if err := s.receiverDB.Delete(addrKey(st.Receiver, st.ID)); err != nil {
		return err
	}
	return s.assetDB.Delete(assetKey(st.Asset, st.ID))
}

// BySender lists stream ids sent by addr in ascending id order, with an
// exclusive start-after cursor.
func (s *state) BySender(addr ids.ShortID, startAfter *uint64, limit uint32) ([]uint64, error) {
	return s.scan(s.senderDB, addr[:], startAfter, limit)
}

// ByReceiver lists stream ids received by addr in ascending id order,
// with an exclusive start-after cursor.
func (s *state) ByReceiver(addr ids.ShortID, startAfter *uint64, limit uint32) ([]uint64, error) {
	return s.scan(s.receiverDB, addr[:], startAfter, limit)
}

// ByAsset lists stream ids denominated in asset in ascending id order,
// with an exclusive start-after cursor.
func (s *state) ByAsset(asset pay.AssetInfo, startAfter *uint64, limit uint32) ([]uint64, error) {
	return s.scan(s.assetDB, assetPrefixKey(asset), startAfter, limit)
}

func (s *state) scan(db database.Database, prefix []byte, startAfter *uint64, limit uint32) ([]uint64, error) {
	limit = index.ClampLimit(limit)

	start := prefix
	if startAfter != nil {
		key := make([]byte, len(prefix)+8)
		copy(key, prefix)
		binary.BigEndian.PutUint64(key[len(prefix):], *startAfter)
		start = index.NextKey(key)
	}
	iter := db.NewIteratorWithStartAndPrefix(start, prefix)
	defer iter.Release()

	streamIDs := make([]uint64, 0, limit)
	for iter.Next() && uint32(len(streamIDs)) < limit {
		key := iter.Key()
		// A denom that is a strict prefix of another denom shows up in
		// the same scan with a longer key; skip those.
		if len(key) != len(prefix)+8 {
			continue
		}
		streamIDs = append(streamIDs, binary.BigEndian.Uint64(key[len(prefix):]))
	}
	return streamIDs, iter.Error()
}

func addrKey(addr ids.ShortID, id uint64) []byte {
	key := make([]byte, len(addr)+8)
	copy(key, addr[:])
	binary.BigEndian.PutUint64(key[len(addr):], id)
	return key
}

// assetPrefixKey is the index prefix for an asset: the token contract
// for token assets, the denom bytes for native ones.
func assetPrefixKey(asset pay.AssetInfo) []byte {
	if asset.IsToken() {
		return asset.Contract[:]
	}
	return []byte(asset.Denom)
}

func assetKey(asset pay.AssetInfo, id uint64) []byte {
	prefix := assetPrefixKey(asset)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}
