// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaynet/cnode/utils/wrappers"
)

// Metrics counts the transport's error and traffic events.
// A nil *Metrics is valid and counts nothing, so tests and tools can
// run a Transport without a registry.
type Metrics struct {
	readErrors         prometheus.Counter
	strikes            prometheus.Counter
	duplicates         prometheus.Counter
	fragmentsAssembled prometheus.Counter
	packetsSent        prometheus.Counter
}

// NewMetrics registers the transport's counters with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_read_errors",
			Help: "Number of non-transient socket read errors",
		}),
		strikes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_strikes",
			Help: "Number of protocol violations recorded against neighbours",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_duplicates_suppressed",
			Help: "Number of packets dropped by payload-hash dedup",
		}),
		fragmentsAssembled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_messages_reassembled",
			Help: "Number of fragmented messages fully reassembled",
		}),
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transport_packets_sent",
			Help: "Number of UDP datagrams written",
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(reg.Register(m.readErrors))
	errs.Add(reg.Register(m.strikes))
	errs.Add(reg.Register(m.duplicates))
	errs.Add(reg.Register(m.fragmentsAssembled))
	errs.Add(reg.Register(m.packetsSent))
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) incReadError() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) incStrike() {
	if m != nil {
		m.strikes.Inc()
	}
}

func (m *Metrics) incDuplicate() {
	if m != nil {
		m.duplicates.Inc()
	}
}

func (m *Metrics) incReassembled() {
	if m != nil {
		m.fragmentsAssembled.Inc()
	}
}

func (m *Metrics) incPacketSent() {
	if m != nil {
		m.packetsSent.Inc()
	}
}
