// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry implements the job registry that compensates
// permissionless workers. Payment contracts register as jobs, prepay
// credits, and send a work receipt after each worker-initiated
// settlement; the receipt deducts the base fee from the job's credits and
// pays it out to the worker.
package registry

import (
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
)

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobExists           = errors.New("job already registered")
	ErrInsufficientCredits = errors.New("job has insufficient credits")

	configKey    = []byte("config")
	countKey     = []byte("count")
	jobPrefix    = []byte("job")
	creditPrefix = []byte("credit")
)

// Job is a payment contract registered for worker upkeep.
type Job struct {
	Owner    ids.ShortID `serialize:"true" json:"owner"`
	Name     string      `serialize:"true" json:"name"`
	Contract ids.ShortID `serialize:"true" json:"contract"`
	Active   bool        `serialize:"true" json:"active"`
	JobID    uint64      `serialize:"true" json:"jobID"`
}

type config struct {
	Owner    ids.ShortID   `serialize:"true" json:"owner"`
	FeeAsset pay.AssetInfo `serialize:"true" json:"feeAsset"`
	BaseFee  pay.Amount    `serialize:"true" json:"baseFee"`
}

type credits struct {
	Balance pay.Amount `serialize:"true" json:"balance"`
}

// Registry persists jobs and worker credits.
type Registry struct {
	mu  sync.RWMutex
	log log.Logger

	cfg      config
	configDB database.Database
	jobDB    database.Database
	creditDB database.Database
}

// New creates a registry owned by owner. The base fee starts at zero;
// receipts are free until SetBaseFee is called.
func New(db database.Database, logger log.Logger, owner ids.ShortID) (*Registry, error) {
	r := &Registry{
		log:      logger,
		configDB: db,
		jobDB:    prefixdb.New(jobPrefix, db),
		creditDB: prefixdb.New(creditPrefix, db),
	}

	bytes, err := db.Get(configKey)
	switch {
	case err == nil:
		if _, err := codec.Codec.Unmarshal(bytes, &r.cfg); err != nil {
			return nil, fmt.Errorf("failed to decode registry config: %w", err)
		}
	case errors.Is(err, database.ErrNotFound):
		r.cfg = config{Owner: owner}
		if err := r.storeConfig(); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return r, nil
}

func (r *Registry) storeConfig() error {
	bytes, err := codec.Codec.Marshal(codec.Version, &r.cfg)
	if err != nil {
		return err
	}
	return r.configDB.Put(configKey, bytes)
}

// SetBaseFee sets the per-receipt worker compensation. Owner only.
func (r *Registry) SetBaseFee(caller ids.ShortID, asset pay.AssetInfo, fee *pay.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.cfg.Owner {
		return ErrUnauthorized
	}
	r.cfg.FeeAsset = asset
	r.cfg.BaseFee.Set(fee)
	return r.storeConfig()
}

// AddJob registers contract as a job owned by caller.
func (r *Registry) AddJob(caller, contract ids.ShortID, name string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	has, err := r.jobDB.Has(contract[:])
	if err != nil {
		return nil, err
	}
	if has {
		return nil, ErrJobExists
	}

	count, err := database.GetUInt64(r.configDB, countKey)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}
	count++

	job := &Job{
		Owner:    caller,
		Name:     name,
		Contract: contract,
		Active:   true,
		JobID:    count,
	}
	if err := r.putJob(job); err != nil {
		return nil, err
	}
	if err := database.PutUInt64(r.configDB, countKey, count); err != nil {
		return nil, err
	}

	r.log.Info("job registered",
		log.Uint64("jobID", job.JobID),
		log.String("name", name),
	)
	return job, nil
}

// RemoveJob deletes a job. Callable by the registry owner or the job
// owner.
func (r *Registry) RemoveJob(caller, contract ids.ShortID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.getJob(contract)
	if err != nil {
		return err
	}
	if caller != r.cfg.Owner && caller != job.Owner {
		return ErrUnauthorized
	}
	return r.jobDB.Delete(contract[:])
}

// ToggleJob flips a job's active flag. Inactive jobs cannot produce
// receipts but keep their credits.
func (r *Registry) ToggleJob(caller, contract ids.ShortID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.getJob(contract)
	if err != nil {
		return err
	}
	if caller != r.cfg.Owner && caller != job.Owner {
		return ErrUnauthorized
	}
	job.Active = active
	return r.putJob(job)
}

// AddCredits tops up the prepaid worker-compensation balance for a job.
func (r *Registry) AddCredits(contract ids.ShortID, amount *pay.Amount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getJob(contract); err != nil {
		return err
	}
	bal, err := r.getCredits(contract)
	if err != nil {
		return err
	}
	bal.Balance.Add(&bal.Balance, amount)
	return r.putCredits(contract, bal)
}

// Credits returns the prepaid balance for a job.
func (r *Registry) Credits(contract ids.ShortID) (*pay.Amount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bal, err := r.getCredits(contract)
	if err != nil {
		return nil, err
	}
	return new(pay.Amount).Set(&bal.Balance), nil
}

// CanReceipt reports whether a work receipt for jobContract would
// succeed: the job must be active and, when a base fee is set, hold
// enough prepaid credits to cover it.
func (r *Registry) CanReceipt(jobContract ids.ShortID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, err := r.getJob(jobContract)
	if err != nil {
		return err
	}
	if !job.Active {
		return ErrJobNotFound
	}
	if r.cfg.BaseFee.IsZero() {
		return nil
	}
	bal, err := r.getCredits(jobContract)
	if err != nil {
		return err
	}
	if bal.Balance.Lt(&r.cfg.BaseFee) {
		return ErrInsufficientCredits
	}
	return nil
}

// WorkReceipt records that worker performed upkeep for the calling job
// contract. Deducts the base fee from the job's credits and returns the
// payout instruction, or nil when no base fee is configured.
func (r *Registry) WorkReceipt(jobContract, worker ids.ShortID) (*pay.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.getJob(jobContract)
	if err != nil {
		return nil, err
	}
	if !job.Active {
		return nil, ErrJobNotFound
	}

	if r.cfg.BaseFee.IsZero() {
		return nil, nil
	}

	bal, err := r.getCredits(jobContract)
	if err != nil {
		return nil, err
	}
	if bal.Balance.Lt(&r.cfg.BaseFee) {
		return nil, ErrInsufficientCredits
	}
	bal.Balance.Sub(&bal.Balance, &r.cfg.BaseFee)
	if err := r.putCredits(jobContract, bal); err != nil {
		return nil, err
	}

	r.log.Debug("work receipt",
		log.Uint64("jobID", job.JobID),
		log.Stringer("worker", worker),
	)
	return &pay.Transfer{
		From:      jobContract,
		Recipient: worker,
		Asset:     r.cfg.FeeAsset,
		Amount:    new(pay.Amount).Set(&r.cfg.BaseFee),
	}, nil
}

// GetJob returns a registered job.
func (r *Registry) GetJob(contract ids.ShortID) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getJob(contract)
}

// Jobs lists active jobs in ascending contract order, paginated with an
// exclusive start-after cursor.
func (r *Registry) Jobs(startAfter *ids.ShortID, limit uint32) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit = index.ClampLimit(limit)

	var start []byte
	if startAfter != nil {
		start = index.NextKey(startAfter[:])
	}
	iter := r.jobDB.NewIteratorWithStart(start)
	defer iter.Release()

	jobs := make([]*Job, 0, limit)
	for iter.Next() && uint32(len(jobs)) < limit {
		job := &Job{}
		if _, err := codec.Codec.Unmarshal(iter.Value(), job); err != nil {
			return nil, err
		}
		if !job.Active {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, iter.Error()
}

func (r *Registry) getJob(contract ids.ShortID) (*Job, error) {
	bytes, err := r.jobDB.Get(contract[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	job := &Job{}
	if _, err := codec.Codec.Unmarshal(bytes, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Registry) putJob(job *Job) error {
	bytes, err := codec.Codec.Marshal(codec.Version, job)
	if err != nil {
		return err
	}
	return r.jobDB.Put(job.Contract[:], bytes)
}

func (r *Registry) getCredits(contract ids.ShortID) (*credits, error) {
	bytes, err := r.creditDB.Get(contract[:])
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return &credits{}, nil
		}
		return nil, err
	}
	bal := &credits{}
	if _, err := codec.Codec.Unmarshal(bytes, bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (r *Registry) putCredits(contract ids.ShortID, bal *credits) error {
	bytes, err := codec.Codec.Marshal(codec.Version, bal)
	if err != nil {
		return err
	}
	return r.creditDB.Put(contract[:], bytes)
}
