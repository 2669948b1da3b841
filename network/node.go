// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

// Package network keeps a node's entity store in sync with its peers.
//
// One dispatcher goroutine drains a typed event channel and runs one
// handler to completion before the next dequeues, so handlers never
// race each other. Per-peer fetches launched inside a handler run as
// goroutines joined before the handler returns, which bounds startup
// latency when many peers must be polled without giving up the
// single-handler invariant.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/peerlog-foundation/peerlog/entitystore"
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/blobstore"
	"github.com/peerlog-foundation/peerlog/lib/clock"
	"github.com/peerlog-foundation/peerlog/lib/id"
)

// Event is a sync trigger consumed by the dispatcher. The set is
// closed; handlers switch on the concrete type.
type Event interface {
	isEvent()
}

// NodeStarted triggers an initial pull from every peer. Enqueued
// automatically by Start.
type NodeStarted struct{}

// NodeResumed reports a wake from OS suspend. Long suspends
// invalidate sockets, so every transport is reset before peers are
// re-polled.
type NodeResumed struct{}

// PeerAdded reports that a peer became reachable and should be
// pulled. Also used internally to re-trigger a failed peer after its
// backoff elapses.
type PeerAdded struct {
	PeerId id.Id
}

// LocalTransactionCommitted broadcasts a locally authored transaction
// to every connected peer.
type LocalTransactionCommitted struct {
	Signed fact.SignedTransaction
}

// DataMissing fans out a blob fetch to every peer. Any one of them
// might answer; redundant requests trade bandwidth for availability.
type DataMissing struct {
	DataId id.Id
}

// NoPendingMessages reports a transport's "queue drained" notice,
// used to trigger a fresh pull instead of relying only on push.
type NoPendingMessages struct {
	PeerId id.Id
}

func (NodeStarted) isEvent()               {}
func (NodeResumed) isEvent()               {}
func (PeerAdded) isEvent()                 {}
func (LocalTransactionCommitted) isEvent() {}
func (DataMissing) isEvent()               {}
func (NoPendingMessages) isEvent()         {}

// Config holds the parameters for a sync node.
type Config struct {
	// Store is the entity store synced with peers. Required.
	Store *entitystore.Store

	// Blobs receives data fetched from peers and serves their
	// requests. Required.
	Blobs *blobstore.Store

	// RequestTimeout bounds each outbound round trip. Defaults to 30
	// seconds.
	RequestTimeout time.Duration

	// BaseBackoff is the first retry delay after a peer fails.
	// Defaults to one second, doubling per consecutive failure.
	BaseBackoff time.Duration

	// MaxBackoff caps the retry delay. Defaults to five minutes.
	MaxBackoff time.Duration

	// FetchLimit is the transaction batch size per request. Defaults
	// to 100.
	FetchLimit int

	// Clock drives backoff timers.
	Clock clock.Clock

	// Logger receives operational messages.
	Logger *slog.Logger
}

// Node is the sync reactor. Create with New, feed transports with
// AddTransport, start the dispatcher with Start, and stop everything
// with Close.
type Node struct {
	store  *entitystore.Store
	blobs  *blobstore.Store
	clock  clock.Clock
	logger *slog.Logger

	requestTimeout time.Duration
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	fetchLimit     int

	events chan Event

	mu         sync.Mutex
	transports map[id.Id]Transport
	backoff    map[id.Id]time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a sync node. The dispatcher does not run until Start.
func New(cfg Config) (*Node, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("network: Store is required")
	}
	if cfg.Blobs == nil {
		return nil, fmt.Errorf("network: Blobs is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Node{
		store:          cfg.Store,
		blobs:          cfg.Blobs,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		requestTimeout: cfg.RequestTimeout,
		baseBackoff:    cfg.BaseBackoff,
		maxBackoff:     cfg.MaxBackoff,
		fetchLimit:     cfg.FetchLimit,
		events:         make(chan Event, 256),
		transports:     make(map[id.Id]Transport),
		backoff:        make(map[id.Id]time.Duration),
	}, nil
}

// Start launches the dispatcher goroutine and enqueues NodeStarted.
// The node stops when ctx is cancelled or Close is called. Starting a
// node twice is an error.
func (n *Node) Start(ctx context.Context) error {
	if n.done != nil {
		return fmt.Errorf("network: node already started")
	}
	n.ctx, n.cancel = context.WithCancel(ctx)
	n.done = make(chan struct{})
	go n.run()
	n.Notify(NodeStarted{})
	return nil
}

// Close stops the dispatcher, waits for the in-flight handler to
// finish, and closes every transport.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
		<-n.done
	}

	n.mu.Lock()
	transports := make([]Transport, 0, len(n.transports))
	for _, transport := range n.transports {
		transports = append(transports, transport)
	}
	n.transports = make(map[id.Id]Transport)
	n.mu.Unlock()

	for _, transport := range transports {
		if err := transport.Close(); err != nil {
			n.logger.Warn("transport close failed",
				"peer", transport.PeerId(),
				"error", err,
			)
		}
	}
	return nil
}

// Notify enqueues an event for the dispatcher. Blocks if the queue is
// full; returns immediately once the node is stopped. Events enqueued
// before Start are handled once the dispatcher runs.
func (n *Node) Notify(event Event) {
	if n.ctx == nil {
		n.events <- event
		return
	}
	select {
	case n.events <- event:
	case <-n.ctx.Done():
	}
}

// AddTransport registers a peer connection and triggers an initial
// pull from it. A transport for the same peer replaces (and closes)
// the previous one.
func (n *Node) AddTransport(transport Transport) {
	peerId := transport.PeerId()

	n.mu.Lock()
	previous := n.transports[peerId]
	n.transports[peerId] = transport
	n.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	n.Notify(PeerAdded{PeerId: peerId})
}

// RemoveTransport closes and forgets a peer connection.
func (n *Node) RemoveTransport(peerId id.Id) {
	n.mu.Lock()
	transport := n.transports[peerId]
	delete(n.transports, peerId)
	delete(n.backoff, peerId)
	n.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
}

// Transactions serves a peer's pull request from the local store:
// one authority's log after the given transaction id, in ordinal
// order.
func (n *Node) Transactions(ctx context.Context, authorityId, afterTransactionId id.Id, limit int) ([]fact.SignedTransaction, error) {
	return n.store.GetTransactionsSince(ctx, authorityId, afterTransactionId, limit)
}

// Data serves a peer's blob request from the local blob store. The
// second return is false when this node does not hold the blob.
func (n *Node) Data(ctx context.Context, dataId id.Id) ([]byte, bool, error) {
	data, err := n.blobs.Read(dataId)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Ingest applies transactions pushed by a peer. For each authoring
// authority this node holds a transport to, a follow-up pull is
// triggered: a push usually means more of that log is available, and
// a push that arrives ahead of the local log (ordinal gap) is dropped
// in favor of that pull, which refetches the log in order.
func (n *Node) Ingest(ctx context.Context, transactions []fact.SignedTransaction) error {
	if err := n.store.AddSignedTransactions(ctx, transactions); err != nil {
		if !errors.Is(err, entitystore.ErrOutOfOrder) {
			return err
		}
		n.logger.Info("pushed transactions ahead of local log, pulling instead", "error", err)
	}

	notified := make(map[id.Id]bool)
	for _, signed := range transactions {
		authorityId := signed.Transaction.AuthorityId
		if notified[authorityId] {
			continue
		}
		notified[authorityId] = true
		if _, ok := n.transport(authorityId); ok {
			n.Notify(NoPendingMessages{PeerId: authorityId})
		}
	}
	return nil
}

// run is the dispatcher loop: one handler at a time, in arrival
// order, until the context cancels.
func (n *Node) run() {
	defer close(n.done)
	for {
		select {
		case <-n.ctx.Done():
			return
		case event := <-n.events:
			n.handle(event)
		}
	}
}

func (n *Node) handle(event Event) {
	switch ev := event.(type) {
	case NodeStarted:
		n.syncAll()
	case NodeResumed:
		n.resetTransports()
		n.syncAll()
	case PeerAdded:
		if transport, ok := n.transport(ev.PeerId); ok {
			n.syncPeer(transport)
		}
	case NoPendingMessages:
		if transport, ok := n.transport(ev.PeerId); ok {
			n.syncPeer(transport)
		}
	case LocalTransactionCommitted:
		n.broadcast(ev.Signed)
	case DataMissing:
		n.fetchData(ev.DataId)
	default:
		n.logger.Warn("unknown event type", "event", fmt.Sprintf("%T", event))
	}
}

func (n *Node) transport(peerId id.Id) (Transport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	transport, ok := n.transports[peerId]
	return transport, ok
}

func (n *Node) allTransports() []Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	transports := make([]Transport, 0, len(n.transports))
	for _, transport := range n.transports {
		transports = append(transports, transport)
	}
	return transports
}

// syncAll pulls from every peer concurrently and joins before
// returning, keeping the one-handler-at-a-time invariant while
// bounding total latency by the slowest peer instead of the sum.
func (n *Node) syncAll() {
	var group sync.WaitGroup
	for _, transport := range n.allTransports() {
		group.Add(1)
		go func(transport Transport) {
			defer group.Done()
			n.syncPeer(transport)
		}(transport)
	}
	group.Wait()
}

// syncPeer pulls one peer's transaction log from where the local
// store left off. A transport failure or an ordinal gap schedules a
// backoff-delayed retry; a verification failure (bad signature,
// unknown authority) aborts this peer's batch without retry, leaving
// already-applied state intact.
func (n *Node) syncPeer(transport Transport) {
	peerId := transport.PeerId()

	for {
		afterId, _, err := n.store.GetLastTransactionId(n.ctx, peerId)
		if err != nil {
			n.logger.Error("reading sync position failed", "peer", peerId, "error", err)
			return
		}

		requestCtx, cancel := context.WithTimeout(n.ctx, n.requestTimeout)
		batch, err := transport.GetTransactions(requestCtx, peerId, afterId, n.fetchLimit)
		cancel()
		if err != nil {
			n.scheduleRetry(peerId, err)
			return
		}
		if len(batch) == 0 {
			break
		}

		if err := n.store.AddSignedTransactions(n.ctx, batch); err != nil {
			// An ordinal gap means the peer served from a position
			// ahead of our log; a delayed in-order re-fetch repairs
			// it. Anything else (bad signature, unknown authority)
			// cannot be fixed by retrying.
			if errors.Is(err, entitystore.ErrOutOfOrder) {
				n.scheduleRetry(peerId, err)
				return
			}
			n.logger.Error("applying peer transactions failed",
				"peer", peerId,
				"batch_size", len(batch),
				"error", err,
			)
			return
		}

		if len(batch) < n.fetchLimit {
			break
		}
	}

	n.mu.Lock()
	delete(n.backoff, peerId)
	n.mu.Unlock()
}

// scheduleRetry doubles the peer's backoff up to the cap and
// re-enqueues a pull for it once the delay elapses. The timer
// goroutine exits early on shutdown.
func (n *Node) scheduleRetry(peerId id.Id, cause error) {
	n.mu.Lock()
	delay := n.backoff[peerId]
	if delay == 0 {
		delay = n.baseBackoff
	} else {
		delay *= 2
		if delay > n.maxBackoff {
			delay = n.maxBackoff
		}
	}
	n.backoff[peerId] = delay
	n.mu.Unlock()

	n.logger.Warn("peer sync failed, retrying",
		"peer", peerId,
		"retry_in", delay,
		"error", cause,
	)

	go func() {
		select {
		case <-n.ctx.Done():
		case <-n.clock.After(delay):
			n.Notify(PeerAdded{PeerId: peerId})
		}
	}()
}

// broadcast pushes a locally committed transaction to every peer
// concurrently, joined before the handler returns. Delivery failures
// log and rely on the peer's next pull; the log is the source of
// truth, push is an optimization.
func (n *Node) broadcast(signed fact.SignedTransaction) {
	var group sync.WaitGroup
	for _, transport := range n.allTransports() {
		group.Add(1)
		go func(transport Transport) {
			defer group.Done()
			requestCtx, cancel := context.WithTimeout(n.ctx, n.requestTimeout)
			defer cancel()
			if err := transport.SendTransaction(requestCtx, signed); err != nil {
				n.logger.Warn("transaction broadcast failed",
					"peer", transport.PeerId(),
					"transaction", signed.Transaction.Id,
					"error", err,
				)
			}
		}(transport)
	}
	group.Wait()
}

// fetchData asks every peer for a missing blob. All peers are asked
// even after one answers; the blob store deduplicates the writes and
// the redundancy keeps a single slow peer from stalling recovery.
func (n *Node) fetchData(dataId id.Id) {
	var group sync.WaitGroup
	for _, transport := range n.allTransports() {
		group.Add(1)
		go func(transport Transport) {
			defer group.Done()
			requestCtx, cancel := context.WithTimeout(n.ctx, n.requestTimeout)
			defer cancel()

			data, found, err := transport.GetData(requestCtx, dataId)
			if err != nil {
				n.logger.Warn("data fetch failed",
					"peer", transport.PeerId(),
					"data", dataId,
					"error", err,
				)
				return
			}
			if !found {
				return
			}
			// The blob store is content-addressed; bytes that do
			// not hash to the requested id are a corrupt or
			// malicious response, not the data we asked for.
			if id.OfData(data) != dataId {
				n.logger.Warn("fetched data does not match its id",
					"peer", transport.PeerId(),
					"data", dataId,
				)
				return
			}
			if _, err := n.blobs.Write(data); err != nil {
				n.logger.Error("storing fetched data failed",
					"peer", transport.PeerId(),
					"data", dataId,
					"error", err,
				)
			}
		}(transport)
	}
	group.Wait()
}

// resetTransports reestablishes every transport's underlying
// connection. Run on resume: sockets that survived suspend in name
// only would otherwise fail the first request and burn a backoff
// cycle each.
func (n *Node) resetTransports() {
	for _, transport := range n.allTransports() {
		requestCtx, cancel := context.WithTimeout(n.ctx, n.requestTimeout)
		if err := transport.Reset(requestCtx); err != nil {
			n.logger.Warn("transport reset failed",
				"peer", transport.PeerId(),
				"error", err,
			)
		}
		cancel()
	}
}
