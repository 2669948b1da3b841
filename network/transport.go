// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Transport is one connection to a peer. Implementations wrap a relay
// session or a direct socket; the loopback implementation wires two
// in-process nodes together for tests.
//
// All methods must honor context cancellation promptly: a cancelled
// call closes or abandons the underlying socket rather than blocking
// shutdown.
type Transport interface {
	// PeerId is the authority id of the remote node.
	PeerId() id.Id

	// GetTransactions pulls one authority's log after the given
	// transaction id, in ordinal order. A zero id pulls from the
	// beginning.
	GetTransactions(ctx context.Context, authorityId, afterTransactionId id.Id, limit int) ([]fact.SignedTransaction, error)

	// GetData fetches a content blob. The second return is false when
	// the peer does not hold it; that is not an error.
	GetData(ctx context.Context, dataId id.Id) ([]byte, bool, error)

	// SendTransaction pushes a locally committed transaction to the
	// peer.
	SendTransaction(ctx context.Context, signed fact.SignedTransaction) error

	// Reset reestablishes the underlying connection after a suspend.
	Reset(ctx context.Context) error

	// Close releases the connection. Further calls fail.
	Close() error
}

// Loopback connects a node directly to another in-process node. Used
// by tests and by single-process multi-persona setups where two
// stores in the same daemon sync with each other.
type Loopback struct {
	peerId id.Id
	remote *Node

	closed atomic.Bool
	resets atomic.Int64
}

// NewLoopback creates a transport whose remote end is served directly
// by the given node, identified as peerId.
func NewLoopback(peerId id.Id, remote *Node) *Loopback {
	return &Loopback{peerId: peerId, remote: remote}
}

// ConnectLoopback wires two nodes together bidirectionally: each gets
// a loopback transport for the other.
func ConnectLoopback(first *Node, firstId id.Id, second *Node, secondId id.Id) {
	first.AddTransport(NewLoopback(secondId, second))
	second.AddTransport(NewLoopback(firstId, first))
}

func (l *Loopback) PeerId() id.Id {
	return l.peerId
}

func (l *Loopback) GetTransactions(ctx context.Context, authorityId, afterTransactionId id.Id, limit int) ([]fact.SignedTransaction, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("network: loopback to %s is closed", l.peerId)
	}
	return l.remote.Transactions(ctx, authorityId, afterTransactionId, limit)
}

func (l *Loopback) GetData(ctx context.Context, dataId id.Id) ([]byte, bool, error) {
	if l.closed.Load() {
		return nil, false, fmt.Errorf("network: loopback to %s is closed", l.peerId)
	}
	return l.remote.Data(ctx, dataId)
}

func (l *Loopback) SendTransaction(ctx context.Context, signed fact.SignedTransaction) error {
	if l.closed.Load() {
		return fmt.Errorf("network: loopback to %s is closed", l.peerId)
	}
	return l.remote.Ingest(ctx, []fact.SignedTransaction{signed})
}

// Reset is a no-op beyond counting: an in-process connection has no
// socket to rebuild.
func (l *Loopback) Reset(ctx context.Context) error {
	if l.closed.Load() {
		return fmt.Errorf("network: loopback to %s is closed", l.peerId)
	}
	l.resets.Add(1)
	return nil
}

// Resets reports how many times the transport was reset.
func (l *Loopback) Resets() int64 {
	return l.resets.Load()
}

func (l *Loopback) Close() error {
	l.closed.Store(true)
	return nil
}
