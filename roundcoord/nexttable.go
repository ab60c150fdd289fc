// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package roundcoord

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/relaynet/cnode/types"
)

// candidateTally counts how many confidants nominated a public key,
// for the committee-rotation tie-break.
type candidateTally struct {
	key   types.PublicKey
	count int
}

// DeriveNextRoundTable builds the round table for round+1 from the
// nominations collected via ObserveStage1 for round: candidates are
// unioned across every confidant's nomination list, filtered to those
// currently connected, and ranked by nomination count (ties broken by
// lexicographically lowest public key). The writer is the
// highest-ranked candidate; the confidant list is the top
// MinTrustedNodes..MaxTrustedNodes by the same order.
func (c *Coordinator) DeriveNextRoundTable(round types.Round) (types.RoundTable, error) {
	c.mu.Lock()
	byIndex := c.nominations[round]
	c.mu.Unlock()

	if len(byIndex) == 0 {
		return types.RoundTable{}, fmt.Errorf("roundcoord: no Stage1 nominations observed for round %d", round)
	}

	tally := make(map[types.PublicKey]int)
	for _, candidates := range byIndex {
		for _, pk := range candidates {
			if c.connectivity != nil && !c.connectivity.Connected(pk) {
				continue
			}
			tally[pk]++
		}
	}
	if len(tally) == 0 {
		return types.RoundTable{}, fmt.Errorf("roundcoord: no connected candidates nominated for round %d", round)
	}

	ranked := make([]candidateTally, 0, len(tally))
	for pk, n := range tally {
		ranked = append(ranked, candidateTally{key: pk, count: n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return bytes.Compare(ranked[i].key[:], ranked[j].key[:]) < 0
	})

	n := c.cfg.MaxTrustedNodes
	if len(ranked) < n {
		n = len(ranked)
	}
	if n < c.cfg.MinTrustedNodes {
		n = len(ranked)
		if n > c.cfg.MaxTrustedNodes {
			n = c.cfg.MaxTrustedNodes
		}
	}
	if n < c.cfg.MinTrustedNodes {
		return types.RoundTable{}, fmt.Errorf("roundcoord: only %d connected candidates nominated, need >= %d", n, c.cfg.MinTrustedNodes)
	}

	confidants := make([]types.PublicKey, n)
	for i := 0; i < n; i++ {
		confidants[i] = ranked[i].key
	}

	return types.RoundTable{
		Round:      round + 1,
		General:    ranked[0].key,
		Confidants: confidants,
	}, nil
}
