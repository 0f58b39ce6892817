// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package factory is the product factory: it owns the protocol fee
// configuration that subscription settlement reads at charge time,
// enforces creation minimums for new products, and keeps a paginated
// record of products per owner.
package factory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/payvm/codec"
	"github.com/luxfi/payvm/components/index"
	"github.com/luxfi/payvm/components/pay"
	"github.com/luxfi/payvm/fees"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrRestricted      = errors.New("product creation is restricted to the owner")
	ErrInvalidFee      = errors.New("invalid fee configuration")
	ErrInvalidParam    = errors.New("invalid product parameters")
	ErrProductNotFound = errors.New("product not found")

	configKey     = []byte("config")
	productIDKey  = []byte("product_id")
	productPrefix = []byte("product")
	ownerPrefix   = []byte("product_owner")
)

// FeeConfig is the protocol fee information read by subscription
// settlement. MinFee is a floor on the absolute fee.
type FeeConfig struct {
	FeeBPS     uint64      `serialize:"true" json:"feeBPS"`
	MinFee     pay.Amount  `serialize:"true" json:"minFee"`
	FeeAddress ids.ShortID `serialize:"true" json:"feeAddress"`
}

// Config is the persisted factory configuration.
type Config struct {
	Owner              ids.ShortID `serialize:"true" json:"owner"`
	Restricted         bool        `serialize:"true" json:"restricted"`
	Fee                FeeConfig   `serialize:"true" json:"fee"`
	MinAmountPerPeriod pay.Amount  `serialize:"true" json:"minAmountPerPeriod"`
	MinUnitInterval    uint64      `serialize:"true" json:"minUnitInterval"`
	JobRegistry        ids.ShortID `serialize:"true" json:"jobRegistry"`
}

// Product records a subscription product created through the factory.
type Product struct {
	ID            uint64      `serialize:"true" json:"id"`
	Owner         ids.ShortID `serialize:"true" json:"owner"`
	Receiver      ids.ShortID `serialize:"true" json:"receiver"`
	UnitAmount    pay.Amount  `serialize:"true" json:"unitAmount"`
	InitialAmount pay.Amount  `serialize:"true" json:"initialAmount"`
	UnitInterval  uint64      `serialize:"true" json:"unitInterval"`
	Grace         uint64      `serialize:"true" json:"grace"`
	URI           string      `serialize:"true" json:"uri"`
}

// Factory persists the fee configuration and product records.
type Factory struct {
	mu  sync.RWMutex
	log log.Logger

	cfg       Config
	configDB  database.Database
	productDB database.Database
	ownerDB   database.Database
}

// New creates a factory with the given initial configuration.
func New(db database.Database, logger log.Logger, cfg Config) (*Factory, error) {
	if !fees.ValidRate(cfg.Fee.FeeBPS) {
		return nil, ErrInvalidFee
	}
	f := &Factory{
		log:       logger,
		cfg:       cfg,
		configDB:  db,
		productDB: prefixdb.New(productPrefix, db),
		ownerDB:   prefixdb.New(ownerPrefix, db),
	}

	bytes, err := db.Get(configKey)
	switch {
	case err == nil:
		if _, err := codec.Codec.Unmarshal(bytes, &f.cfg); err != nil {
			return nil, fmt.Errorf("failed to decode factory config: %w", err)
		}
	case errors.Is(err, database.ErrNotFound):
		if err := f.storeConfig(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return f, nil
}

func (f *Factory) storeConfig() error {
	bytes, err := codec.Codec.Marshal(codec.Version, &f.cfg)
	if err != nil {
		return err
	}
	return f.configDB.Put(configKey, bytes)
}

// FeeConfig returns the current protocol fee configuration.
func (f *Factory) FeeConfig() FeeConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cfg := f.cfg.Fee
	cfg.MinFee = *new(pay.Amount).Set(&f.cfg.Fee.MinFee)
	return cfg
}

// JobRegistry returns the address settlement receipts are sent to.
func (f *Factory) JobRegistry() ids.ShortID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.JobRegistry
}

// ConfigUpdate carries the optional fields of UpdateConfig. Nil fields
// are left unchanged.
type ConfigUpdate struct {
	Owner              *ids.ShortID
	Restricted         *bool
	FeeBPS             *uint64
	MinFee             *pay.Amount
	FeeAddress         *ids.ShortID
	MinAmountPerPeriod *pay.Amount
	MinUnitInterval    *uint64
	JobRegistry        *ids.ShortID
}

// UpdateConfig applies a configuration update. Owner only. Fee rates out
// of bounds are rejected here, never at charge time.
func (f *Factory) UpdateConfig(caller ids.ShortID, update ConfigUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.cfg.Owner {
		return ErrUnauthorized
	}
	if update.FeeBPS != nil && !fees.ValidRate(*update.FeeBPS) {
		return ErrInvalidFee
	}

	if update.Owner != nil {
		f.cfg.Owner = *update.Owner
	}
	if update.Restricted != nil {
		f.cfg.Restricted = *update.Restricted
	}
	if update.FeeBPS != nil {
		f.cfg.Fee.FeeBPS = *update.FeeBPS
	}
	if update.MinFee != nil {
		f.cfg.Fee.MinFee.Set(update.MinFee)
	}
	if update.FeeAddress != nil {
		f.cfg.Fee.FeeAddress = *update.FeeAddress
	}
	if update.MinAmountPerPeriod != nil {
		f.cfg.MinAmountPerPeriod.Set(update.MinAmountPerPeriod)
	}
	if update.MinUnitInterval != nil {
		f.cfg.MinUnitInterval = *update.MinUnitInterval
	}
	if update.JobRegistry != nil {
		f.cfg.JobRegistry = *update.JobRegistry
	}
	return f.storeConfig()
}

// CreateProduct validates the product against the configured minimums and
// records it. When the factory is restricted only the owner may create
// products.
func (f *Factory) CreateProduct(caller ids.ShortID, p Product) (*Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.Restricted && caller != f.cfg.Owner {
		return nil, ErrRestricted
	}
	if p.UnitInterval < f.cfg.MinUnitInterval {
		return nil, ErrInvalidParam
	}
	if p.UnitAmount.Lt(&f.cfg.MinAmountPerPeriod) {
		return nil, ErrInvalidParam
	}

	id, err := database.GetUInt64(f.configDB, productIDKey)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	id++

	p.ID = id
	p.Owner = caller

	bytes, err := codec.Codec.Marshal(codec.Version, &p)
	if err != nil {
		return nil, err
	}
	idKey := database.PackUInt64(id)
	if err := f.productDB.Put(idKey, bytes); err != nil {
		return nil, err
	}
	if err := f.ownerDB.Put(ownerKey(caller, id), nil); err != nil {
		return nil, err
	}
	if err := database.PutUInt64(f.configDB, productIDKey, id); err != nil {
		return nil, err
	}

	f.log.Info("product created",
		log.Uint64("productID", id),
		log.Stringer("owner", caller),
	)
	return &p, nil
}

// GetProduct returns a product by id.
func (f *Factory) GetProduct(id uint64) (*Product, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bytes, err := f.productDB.Get(database.PackUInt64(id))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	p := &Product{}
	if _, err := codec.Codec.Unmarshal(bytes, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProductsByOwner lists product ids created by owner, ascending,
// paginated with an exclusive start-after cursor.
func (f *Factory) ProductsByOwner(owner ids.ShortID, startAfter uint64, limit uint32) ([]uint64, uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	limit = index.ClampLimit(limit)

	var start []byte
	if startAfter > 0 {
		start = ownerKey(owner, startAfter+1)
	} else {
		start = owner[:]
	}
	iter := f.ownerDB.NewIteratorWithStartAndPrefix(start, owner[:])
	defer iter.Release()

	var (
		productIDs []uint64
		lastKey    uint64
	)
	for iter.Next() && uint32(len(productIDs)) < limit {
		id := binary.BigEndian.Uint64(iter.Key()[len(owner):])
		productIDs = append(productIDs, id)
		lastKey = id
	}
	return productIDs, lastKey, iter.Error()
}

func ownerKey(owner ids.ShortID, id uint64) []byte {
	key := make([]byte, len(owner)+8)
	copy(key, owner[:])
	copy(key[len(owner):], database.PackUInt64(id))
	return key
}
