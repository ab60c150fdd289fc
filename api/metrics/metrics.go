// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics wires the node's per-component prometheus
// registries into the single gatherer the admin endpoint serves.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registerer is the write half handed to each component.
type Registerer interface {
	prometheus.Registerer
}

// Registry is a prometheus registry: components register into it, the
// admin endpoint gathers from it.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry creates a new prometheus registry.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// MultiGatherer merges the gatherers of every core component
// (transport, conveyer, executor, consensus) under one endpoint.
type MultiGatherer interface {
	prometheus.Gatherer

	// Register adds a new gatherer to this multi-gatherer.
	Register(name string, gatherer prometheus.Gatherer) error
}

type multiGatherer struct {
	mu        sync.RWMutex
	gatherers map[string]prometheus.Gatherer
}

// NewMultiGatherer creates an empty MultiGatherer.
func NewMultiGatherer() MultiGatherer {
	return &multiGatherer{
		gatherers: make(map[string]prometheus.Gatherer),
	}
}

func (mg *multiGatherer) Register(name string, gatherer prometheus.Gatherer) error {
	mg.mu.Lock()
	defer mg.mu.Unlock()
	if _, ok := mg.gatherers[name]; ok {
		return fmt.Errorf("metrics: gatherer %q already registered", name)
	}
	mg.gatherers[name] = gatherer
	return nil
}

func (mg *multiGatherer) Gather() ([]*dto.MetricFamily, error) {
	mg.mu.RLock()
	defer mg.mu.RUnlock()

	var result []*dto.MetricFamily
	for _, g := range mg.gatherers {
		families, err := g.Gather()
		if err != nil {
			return nil, err
		}
		result = append(result, families...)
	}
	return result, nil
}
