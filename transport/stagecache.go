// Copyright (C) 2021-2026 The RelayNet Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package transport

import (
	"sync"

	"github.com/relaynet/cnode/wirecodec"

	"github.com/relaynet/cnode/types"
)

// stageCache remembers the last Stage1/2/3 payload this node
// broadcast for the current round, so an incoming StageRequest can be
// answered locally without involving the consensus machine, which has
// no API of its own for replaying past broadcasts.
type stageCache struct {
	mu    sync.Mutex
	round types.Round
	s1    []byte
	s2    []byte
	s3    []byte
}

func newStageCache() *stageCache {
	return &stageCache{}
}

func (c *stageCache) resetIfNewRound(round types.Round) {
	if round != c.round {
		c.round = round
		c.s1, c.s2, c.s3 = nil, nil, nil
	}
}

func (c *stageCache) putStage1(round types.Round, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewRound(round)
	c.s1 = payload
}

func (c *stageCache) putStage2(round types.Round, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewRound(round)
	c.s2 = payload
}

func (c *stageCache) putStage3(round types.Round, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetIfNewRound(round)
	c.s3 = payload
}

// get returns the cached payload for msgType at round, if any.
func (c *stageCache) get(round types.Round, msgType wirecodec.MessageType) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if round != c.round {
		return nil, false
	}
	switch msgType {
	case wirecodec.MsgStage1:
		return c.s1, c.s1 != nil
	case wirecodec.MsgStage2:
		return c.s2, c.s2 != nil
	case wirecodec.MsgStage3:
		return c.s3, c.s3 != nil
	default:
		return nil, false
	}
}
