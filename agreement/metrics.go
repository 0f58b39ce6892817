// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package agreement

import (
	"github.com/luxfi/metric"
)

type metrics struct {
	numCreated    metric.Counter
	numTransfers  metric.Counter
	numCancelled  metric.Counter
	numTerminated metric.Counter
	numWork       metric.Counter
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		numCreated: metric.NewCounter(metric.CounterOpts{
			Name: "agreement_created",
			Help: "Number of agreements created",
		}),
		numTransfers: metric.NewCounter(metric.CounterOpts{
			Name: "agreement_transfers",
			Help: "Number of successful agreement transfers",
		}),
		numCancelled: metric.NewCounter(metric.CounterOpts{
			Name: "agreement_cancelled",
			Help: "Number of agreements cancelled by their payer",
		}),
		numTerminated: metric.NewCounter(metric.CounterOpts{
			Name: "agreement_terminated",
			Help: "Number of lapsed or expired agreements terminated",
		}),
		numWork: metric.NewCounter(metric.CounterOpts{
			Name: "agreement_work",
			Help: "Number of settlement work calls",
		}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range []metric.Counter{
		m.numCreated,
		m.numTransfers,
		m.numCancelled,
		m.numTerminated,
		m.numWork,
	} {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	return m, nil
}
