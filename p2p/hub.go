// Copyright (C) 2019-2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package p2p

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ava-labs/avalanchego/ids"

	log "github.com/inconshreveable/log15"
)

// DefaultInboxSize is the number of undelivered messages a peer buffers.
const DefaultInboxSize = 256

var (
	ErrClosed    = errors.New("peer is closed")
	ErrDuplicate = errors.New("peer already joined")
)

// Network is how a validator talks to the others. Delivery is
// at-least-once, so receivers must tolerate duplicates.
type Network interface {
	Broadcast(ctx context.Context, msg Message) error
	Receive(ctx context.Context) (Message, error)
}

var _ Network = (*Peer)(nil)

// Hub connects in-process peers. Every message a peer broadcasts is
// delivered to every other connected peer.
type Hub struct {
	log log.Logger

	lock  sync.RWMutex
	peers map[ids.ShortID]*Peer
}

func NewHub() *Hub {
	return &Hub{
		log:   log.New("module", "p2p"),
		peers: make(map[ids.ShortID]*Peer),
	}
}

// Join connects a new peer with room for [inboxSize] pending messages.
func (h *Hub) Join(id ids.ShortID, inboxSize int) (*Peer, error) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.peers[id]; ok {
		return nil, ErrDuplicate
	}
	p := &Peer{
		id:     id,
		hub:    h,
		inbox:  make(chan Message, inboxSize),
		closed: make(chan struct{}),
	}
	h.peers[id] = p
	h.log.Debug("peer joined", "peer", id)
	return p, nil
}

func (h *Hub) leave(id ids.ShortID) {
	h.lock.Lock()
	defer h.lock.Unlock()

	delete(h.peers, id)
	h.log.Debug("peer left", "peer", id)
}

// Peers returns the connected peers in a stable order.
func (h *Hub) Peers() []ids.ShortID {
	h.lock.RLock()
	defer h.lock.RUnlock()

	out := make([]ids.ShortID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (h *Hub) others(id ids.ShortID) []*Peer {
	h.lock.RLock()
	defer h.lock.RUnlock()

	out := make([]*Peer, 0, len(h.peers))
	for pid, p := range h.peers {
		if pid != id {
			out = append(out, p)
		}
	}
	return out
}

// Peer is one endpoint of a Hub.
type Peer struct {
	id  ids.ShortID
	hub *Hub

	inbox     chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func (p *Peer) ID() ids.ShortID { return p.id }

// Broadcast blocks until every other peer has queued [msg], or [ctx] is
// done. Peers that close in the meantime are skipped.
func (p *Peer) Broadcast(ctx context.Context, msg Message) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	for _, other := range p.hub.others(p.id) {
		select {
		case other.inbox <- msg:
		case <-other.closed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Receive returns the next message delivered to the peer.
func (p *Peer) Receive(ctx context.Context) (Message, error) {
	select {
	case msg := <-p.inbox:
		return msg, nil
	case <-p.closed:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close disconnects the peer. Pending messages are dropped.
func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		p.hub.leave(p.id)
		close(p.closed)
	})
}
