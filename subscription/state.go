// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package subscription

import (
	"errors"
	"fmt"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"

	"github.com/luxfi/payvm/codec"
	"github.com/luxfi/payvm/components/index"
)

var (
	configKey          = []byte("config")
	subscriptionPrefix = []byte("subscription")
)

// state persists the product config and the per-subscriber records.
// Subscriber address is the primary key: one live subscription per
// subscriber.
type state struct {
	configDB database.Database
	subDB    database.Database
}

func newState(db database.Database) *state {
	return &state{
		configDB: db,
		subDB:    prefixdb.New(subscriptionPrefix, db),
	}
}

func (s *state) GetConfig() (*Config, error) {
	bytes, err := s.configDB.Get(configKey)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := codec.Codec.Unmarshal(bytes, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode subscription config: %w", err)
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

func (s *state) GetSubscription(subscriber ids.ShortID) (*Subscription, error) {
	bytes, err := s.subDB.Get(subscriber[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sub := &Subscription{}
	if _, err := codec.Codec.Unmarshal(bytes, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *state) PutSubscription(sub *Subscription) error {
	bytes, err := codec.Codec.Marshal(codec.Version, sub)
	if err != nil {
		return err
	}
	return s.subDB.Put(sub.Subscriber[:], bytes)
}

func (s *state) DeleteSubscription(subscriber ids.ShortID) error {
	return s.subDB.Delete(subscriber[:])
}

// ListSubscriptions returns records in ascending subscriber order with an
// exclusive start-after cursor.
func (s *state) ListSubscriptions(startAfter *ids.ShortID, limit uint32) ([]*Subscription, error) {
	limit = index.ClampLimit(limit)

	var start []byte
	if startAfter != nil {
		start = index.NextKey(startAfter[:])
	}
	iter := s.subDB.NewIteratorWithStart(start)
	defer iter.Release()

	subs := make([]*Subscription, 0, limit)
	for iter.Next() && uint32(len(subs)) < limit {
		sub := &Subscription{}
		if _, err := codec.Codec.Unmarshal(iter.Value(), sub); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, iter.Error()
}
