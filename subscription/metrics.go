// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package subscription

import (
	"github.com/luxfi/metric"
)

type metrics struct {
	numSubscribed metric.Counter
	numCancelled  metric.Counter
	numCharges    metric.Counter
	numWork       metric.Counter
}

func newMetrics(registerer metric.Registerer) (*metrics, error) {
	m := &metrics{
		numSubscribed: metric.NewCounter(metric.CounterOpts{
			Name: "subscription_subscribed",
			Help: "Number of subscriptions created",
		}),
		numCancelled: metric.NewCounter(metric.CounterOpts{
			Name: "subscription_cancelled",
			Help: "Number of subscriptions cancelled",
		}),
		numCharges: metric.NewCounter(metric.CounterOpts{
			Name: "subscription_charges",
			Help: "Number of successful subscription charges",
		}),
		numWork: metric.NewCounter(metric.CounterOpts{
			Name: "subscription_work",
			Help: "Number of settlement work calls",
		}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range []metric.Counter{
		m.numSubscribed,
		m.numCancelled,
		m.numCharges,
		m.numWork,
	} {
		if err := registerer.Register(metric.AsCollector(c)); err != nil {
			return nil, err
		}
	}
	return m, nil
}
