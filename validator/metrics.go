// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	proposalsAccepted prometheus.Counter
	proposalsRejected prometheus.Counter
	txsAccepted       prometheus.Counter
	txsRejected       prometheus.Counter
	duplicatesDropped prometheus.Counter
	votesReceived     prometheus.Counter
	finalizeFailures  prometheus.Counter

	forks           prometheus.Gauge
	finalizedHeight prometheus.Gauge
	mempoolSize     prometheus.Gauge

	proofVerify prometheus.Histogram
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	m := &metrics{
		proposalsAccepted: counter("proposals_accepted", "Number of proposals appended to a fork"),
		proposalsRejected: counter("proposals_rejected", "Number of proposals that failed verification"),
		txsAccepted:       counter("txs_accepted", "Number of transactions added to the mempool"),
		txsRejected:       counter("txs_rejected", "Number of transactions that failed verification"),
		duplicatesDropped: counter("duplicates_dropped", "Number of network messages dropped as already seen"),
		votesReceived:     counter("votes_received", "Number of valid votes received"),
		finalizeFailures:  counter("finalize_failures", "Number of failed attempts to merge the best fork"),
		forks:             gauge("forks", "Number of forks currently tracked"),
		finalizedHeight:   gauge("finalized_height", "Height of the last finalized block"),
		mempoolSize:       gauge("mempool_size", "Number of transactions waiting in the mempool"),
		proofVerify: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_verify_seconds",
			Help:      "Time spent verifying a single proof",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.proposalsAccepted),
		reg.Register(m.proposalsRejected),
		reg.Register(m.txsAccepted),
		reg.Register(m.txsRejected),
		reg.Register(m.duplicatesDropped),
		reg.Register(m.votesReceived),
		reg.Register(m.finalizeFailures),
		reg.Register(m.forks),
		reg.Register(m.finalizedHeight),
		reg.Register(m.mempoolSize),
		reg.Register(m.proofVerify),
	)
	return m, errs.Err
}
