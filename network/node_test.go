// Copyright 2026 The Peerlog Authors
// SPDX-License-Identifier: Apache-2.0

package network

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/peerlog-foundation/peerlog/entity"
	"github.com/peerlog-foundation/peerlog/entitystore"
	"github.com/peerlog-foundation/peerlog/fact"
	"github.com/peerlog-foundation/peerlog/lib/blobstore"
	"github.com/peerlog-foundation/peerlog/lib/id"
	"github.com/peerlog-foundation/peerlog/lib/keyring"
)

// testNode is one in-process peer: a persona, its entity store, its
// blob store, and the sync node over them.
type testNode struct {
	node    *Node
	store   *entitystore.Store
	blobs   *blobstore.Store
	persona *keyring.KeyPair
	keys    *keyring.MemoryKeyStore
}

// testContext returns a context canceled when the test ends, matching the
// behavior of (*testing.T).Context from newer Go releases.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	dir := t.TempDir()

	persona, err := keyring.Generate()
	if err != nil {
		t.Fatal(err)
	}
	keys := keyring.NewMemoryKeyStore()
	keys.AddPersona(persona)

	store, err := entitystore.Open(entitystore.Config{
		Path:   filepath.Join(dir, "entities.db"),
		Signer: keys,
		Keys:   keys,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := blobstore.Open(blobstore.Config{Root: filepath.Join(dir, "blobs")})
	if err != nil {
		t.Fatal(err)
	}

	node, err := New(Config{
		Store:       store,
		Blobs:       blobs,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
		FetchLimit:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { node.Close() })

	return &testNode{
		node:    node,
		store:   store,
		blobs:   blobs,
		persona: persona,
		keys:    keys,
	}
}

// trust registers each node's persona key with the other so ingested
// transactions verify.
func trust(nodes ...*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.keys.AddPublicKey(b.persona.PublicKey)
			}
		}
	}
}

// commitResource commits one resource entity and returns the signed
// transaction.
func commitResource(t *testing.T, tn *testNode, uri string) fact.SignedTransaction {
	t.Helper()
	resource := entity.NewResource(tn.persona.AuthorityId, uri)
	resource.SetName("page")
	signed, committed, err := tn.store.UpdateEntities(context.Background(), resource)
	if err != nil || !committed {
		t.Fatalf("commit: committed=%v err=%v", committed, err)
	}
	return signed
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// transactionCount counts one authority's stored transactions.
func transactionCount(t *testing.T, tn *testNode, authorityId id.Id) int {
	t.Helper()
	transactions, err := tn.store.GetTransactionsSince(context.Background(), authorityId, id.Id{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return len(transactions)
}

func TestStartupPullsPeerLog(t *testing.T) {
	author := newTestNode(t)
	follower := newTestNode(t)
	trust(author, follower)

	// Five transactions forces pagination: FetchLimit is 2.
	for i := 0; i < 5; i++ {
		commitResource(t, author, fmt.Sprintf("https://example.com/page/%d", i))
	}

	author.node.Start(testContext(t))
	follower.node.Start(testContext(t))
	follower.node.AddTransport(NewLoopback(author.persona.AuthorityId, author.node))

	waitFor(t, "follower to pull the author's log", func() bool {
		return transactionCount(t, follower, author.persona.AuthorityId) == 5
	})

	// A later commit plus a fresh trigger pulls only the tail.
	commitResource(t, author, "https://example.com/page/5")
	follower.node.Notify(NoPendingMessages{PeerId: author.persona.AuthorityId})
	waitFor(t, "incremental pull", func() bool {
		return transactionCount(t, follower, author.persona.AuthorityId) == 6
	})
}

func TestCommitBroadcastsToPeers(t *testing.T) {
	author := newTestNode(t)
	follower := newTestNode(t)
	trust(author, follower)

	author.node.Start(testContext(t))
	follower.node.Start(testContext(t))
	ConnectLoopback(author.node, author.persona.AuthorityId, follower.node, follower.persona.AuthorityId)

	signed := commitResource(t, author, "https://example.com/fresh")
	author.node.Notify(LocalTransactionCommitted{Signed: signed})

	waitFor(t, "pushed transaction to arrive", func() bool {
		return transactionCount(t, follower, author.persona.AuthorityId) == 1
	})
}

func TestDataMissingFansOut(t *testing.T) {
	holder := newTestNode(t)
	empty := newTestNode(t)
	seeker := newTestNode(t)
	trust(holder, empty, seeker)

	payload := []byte("attachment bytes")
	dataId, err := holder.blobs.Write(payload)
	if err != nil {
		t.Fatal(err)
	}

	for _, tn := range []*testNode{holder, empty, seeker} {
		tn.node.Start(testContext(t))
	}
	seeker.node.AddTransport(NewLoopback(empty.persona.AuthorityId, empty.node))
	seeker.node.AddTransport(NewLoopback(holder.persona.AuthorityId, holder.node))

	seeker.node.Notify(DataMissing{DataId: dataId})
	waitFor(t, "missing data to be recovered", func() bool {
		return seeker.blobs.Exists(dataId)
	})
}

// corruptedTransport claims to hold every blob but answers with bytes
// that do not hash to the requested id.
type corruptedTransport struct {
	*Loopback
	served []byte
}

func (c *corruptedTransport) GetData(ctx context.Context, dataId id.Id) ([]byte, bool, error) {
	return c.served, true, nil
}

func TestFetchedDataMustMatchItsId(t *testing.T) {
	holder := newTestNode(t)
	seeker := newTestNode(t)
	trust(holder, seeker)

	payload := []byte("attachment bytes")
	dataId, err := holder.blobs.Write(payload)
	if err != nil {
		t.Fatal(err)
	}

	corrupt := &corruptedTransport{
		Loopback: NewLoopback(holder.persona.AuthorityId, holder.node),
		served:   []byte("not the requested bytes"),
	}

	holder.node.Start(testContext(t))
	seeker.node.Start(testContext(t))
	seeker.node.AddTransport(corrupt)

	seeker.node.Notify(DataMissing{DataId: dataId})

	// The mismatched response must be discarded entirely: it is not
	// stored under the requested id, and not under its own id either.
	wrongId := id.OfData(corrupt.served)
	time.Sleep(100 * time.Millisecond)
	if seeker.blobs.Exists(dataId) {
		t.Fatal("mismatched data stored under the requested id")
	}
	if seeker.blobs.Exists(wrongId) {
		t.Fatal("mismatched data stored under its own id")
	}

	// An honest peer still satisfies the fetch.
	seeker.node.AddTransport(NewLoopback(holder.persona.AuthorityId, holder.node))
	seeker.node.Notify(DataMissing{DataId: dataId})
	waitFor(t, "missing data to be recovered", func() bool {
		return seeker.blobs.Exists(dataId)
	})
}

func TestResumeResetsTransports(t *testing.T) {
	local := newTestNode(t)
	peer := newTestNode(t)
	trust(local, peer)

	loopback := NewLoopback(peer.persona.AuthorityId, peer.node)
	local.node.Start(testContext(t))
	peer.node.Start(testContext(t))
	local.node.AddTransport(loopback)

	local.node.Notify(NodeResumed{})
	waitFor(t, "transport reset on resume", func() bool {
		return loopback.Resets() == 1
	})
}

// flakyTransport fails GetTransactions a set number of times before
// delegating to the real peer.
type flakyTransport struct {
	*Loopback
	failures atomic.Int64
	attempts atomic.Int64
}

func (f *flakyTransport) GetTransactions(ctx context.Context, authorityId, afterTransactionId id.Id, limit int) ([]fact.SignedTransaction, error) {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("connection refused")
	}
	return f.Loopback.GetTransactions(ctx, authorityId, afterTransactionId, limit)
}

func TestFailedPeerRetriesWithBackoff(t *testing.T) {
	author := newTestNode(t)
	follower := newTestNode(t)
	trust(author, follower)

	commitResource(t, author, "https://example.com/page")

	flaky := &flakyTransport{Loopback: NewLoopback(author.persona.AuthorityId, author.node)}
	flaky.failures.Store(2)

	author.node.Start(testContext(t))
	follower.node.Start(testContext(t))
	follower.node.AddTransport(flaky)

	waitFor(t, "sync to succeed after retries", func() bool {
		return transactionCount(t, follower, author.persona.AuthorityId) == 1
	})
	if flaky.attempts.Load() < 3 {
		t.Fatalf("transport saw %d attempts, want at least 3", flaky.attempts.Load())
	}
}

func TestCloseStopsDispatcher(t *testing.T) {
	local := newTestNode(t)
	peer := newTestNode(t)
	trust(local, peer)

	loopback := NewLoopback(peer.persona.AuthorityId, peer.node)
	local.node.Start(testContext(t))
	peer.node.Start(testContext(t))
	local.node.AddTransport(loopback)

	if err := local.node.Close(); err != nil {
		t.Fatal(err)
	}

	// The transport was closed with the node.
	if _, err := loopback.GetTransactions(context.Background(), peer.persona.AuthorityId, id.Id{}, 1); err == nil {
		t.Fatal("transport still serving after Close")
	}
}

func TestStartTwiceFails(t *testing.T) {
	local := newTestNode(t)

	if err := local.node.Start(testContext(t)); err != nil {
		t.Fatal(err)
	}
	defer local.node.Close()

	if err := local.node.Start(testContext(t)); err == nil {
		t.Error("second Start succeeded, want error")
	}
}
