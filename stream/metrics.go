// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stream

import (
	"github.com/luxfi/metric"
)

type metrics struct {
	numCreated     metric.Counter
	numWithdrawals metric.Counter
	numCancelled   metric.Counter
	numCompleted   metric.Counter
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		numCreated: metric.NewCounter(metric.CounterOpts{
			Name: "stream_created",
			Help: "Number of streams created",
		}),
		numWithdrawals: metric.NewCounter(metric.CounterOpts{
			Name: "stream_withdrawals",
			Help: "Number of stream withdrawals",
		}),
		numCancelled: metric.NewCounter(metric.CounterOpts{
			Name: "stream_cancelled",
			Help: "Number of streams cancelled",
		}),
		numCompleted: metric.NewCounter(metric.CounterOpts{
			Name: "stream_completed",
			Help: "Number of streams fully drained and deleted",
		}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range []metric.Counter{
		m.numCreated,
		m.numWithdrawals,
		m.numCancelled,
		m.numCompleted,
	} {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	return m, nil
}
