// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payvm wires the recurring-payment primitives over a single
// database: subscription billing, peer-to-peer recurring transfer
// agreements, and continuous token streams, with a shared admin
// allowlist, product factory, and job registry.
package payvm

import (
	"errors"

	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/luxfi/metric"

	"github.com/luxfi/payvm/admin"
	"github.com/luxfi/payvm/agreement"
	"github.com/luxfi/payvm/factory"
	"github.com/luxfi/payvm/registry"
	"github.com/luxfi/payvm/stream"
	"github.com/luxfi/payvm/subscription"
	"github.com/luxfi/payvm/utils/timer/mockable"
)

var (
	adminPrefix        = []byte("admin")
	factoryPrefix      = []byte("factory")
	registryPrefix     = []byte("registry")
	subscriptionPrefix = []byte("subscription")
	agreementPrefix    = []byte("agreement")
	streamPrefix       = []byte("stream")
)

// Config assembles the initial configuration of every subsystem. It is
// only applied the first time the VM opens a database; afterwards the
// persisted state wins.
type Config struct {
	// Owner controls the admin allowlist, factory, and job registry.
	Owner ids.ShortID
	// Admins may manage subscription records alongside the owner.
	Admins []ids.ShortID

	// SubscriptionAddress and AgreementAddress identify the respective
	// services in the job registry; EscrowAddress holds stream deposits.
	SubscriptionAddress ids.ShortID
	AgreementAddress    ids.ShortID
	EscrowAddress       ids.ShortID

	Factory      factory.Config
	Subscription subscription.Config
	Agreement    agreement.Config
}

// VM is the assembled payment machine. All value movement is expressed
// as pay.Instruction values returned by the operation entry points; the
// VM itself never holds funds.
type VM struct {
	log   log.Logger
	clock *mockable.Clock

	Admin         *admin.Allowlist
	Factory       *factory.Factory
	Registry      *registry.Registry
	Subscriptions *subscription.Service
	Agreements    *agreement.Service
	Streams       *stream.Service
}

// New opens every subsystem over its own keyspace of db.
func New(
	db database.Database,
	logger log.Logger,
	registerer metric.Registerer,
	clock *mockable.Clock,
	cfg Config,
) (*VM, error) {
	adminDB := prefixdb.New(adminPrefix, db)
	allowlist, err := admin.Load(adminDB)
	if errors.Is(err, database.ErrNotFound) {
		allowlist, err = admin.New(adminDB, cfg.Owner, cfg.Admins, true)
	}
	if err != nil {
		return nil, err
	}

	fact, err := factory.New(prefixdb.New(factoryPrefix, db), logger, cfg.Factory)
	if err != nil {
		return nil, err
	}

	jobs, err := registry.New(prefixdb.New(registryPrefix, db), logger, cfg.Owner)
	if err != nil {
		return nil, err
	}

	subs, err := subscription.New(
		prefixdb.New(subscriptionPrefix, db),
		logger,
		registerer,
		clock,
		allowlist,
		fact,
		jobs,
		cfg.SubscriptionAddress,
		cfg.Subscription,
	)
	if err != nil {
		return nil, err
	}

	agreements, err := agreement.New(
		prefixdb.New(agreementPrefix, db),
		logger,
		registerer,
		clock,
		jobs,
		cfg.AgreementAddress,
		cfg.Agreement,
	)
	if err != nil {
		return nil, err
	}

	streams, err := stream.New(
		prefixdb.New(streamPrefix, db),
		logger,
		registerer,
		clock,
		cfg.EscrowAddress,
	)
	if err != nil {
		return nil, err
	}

	return &VM{
		log:           logger,
		clock:         clock,
		Admin:         allowlist,
		Factory:       fact,
		Registry:      jobs,
		Subscriptions: subs,
		Agreements:    agreements,
		Streams:       streams,
	}, nil
}
