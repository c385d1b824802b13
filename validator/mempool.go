// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package validator

import (
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/darkrenaissance/darkfi-sub018/blockchain"
)

// mempool holds verified transactions in arrival order until a block that
// includes them is finalized.
type mempool struct {
	size int
	// ready is signalled whenever a transaction is added
	ready chan struct{}

	lock  sync.Mutex
	txs   map[ids.ID]*blockchain.Transaction
	order []ids.ID
}

func newMempool(size int) *mempool {
	return &mempool{
		size:  size,
		ready: make(chan struct{}, 1),
		txs:   make(map[ids.ID]*blockchain.Transaction),
	}
}

func (m *mempool) Add(tx *blockchain.Transaction) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	txID := tx.ID()
	if _, ok := m.txs[txID]; ok {
		return fmt.Errorf("%w: transaction %s is in the mempool", ErrDuplicate, txID)
	}
	if len(m.txs) >= m.size {
		return fmt.Errorf("%w: failed to add %s at size %d", ErrMempoolFull, txID, m.size)
	}
	m.txs[txID] = tx
	m.order = append(m.order, txID)

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return nil
}

func (m *mempool) Has(txID ids.ID) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	_, ok := m.txs[txID]
	return ok
}

func (m *mempool) Remove(txIDs ...ids.ID) {
	m.lock.Lock()
	defer m.lock.Unlock()

	removed := false
	for _, txID := range txIDs {
		if _, ok := m.txs[txID]; ok {
			delete(m.txs, txID)
			removed = true
		}
	}
	if !removed {
		return
	}
	order := m.order[:0]
	for _, txID := range m.order {
		if _, ok := m.txs[txID]; ok {
			order = append(order, txID)
		}
	}
	m.order = order
}

// Pending returns the transactions in arrival order.
func (m *mempool) Pending() []*blockchain.Transaction {
	m.lock.Lock()
	defer m.lock.Unlock()

	out := make([]*blockchain.Transaction, len(m.order))
	for i, txID := range m.order {
		out[i] = m.txs[txID]
	}
	return out
}

func (m *mempool) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return len(m.txs)
}

// Ready is signalled after transactions are added.
func (m *mempool) Ready() <-chan struct{} { return m.ready }
