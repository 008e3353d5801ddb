package primary_test

import (
	"context"
	"sync"
	"testing"
	"time"

	badgerdb "github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module/metrics"
	"github.com/tusknet/tusk/network"
	"github.com/tusknet/tusk/primary"
	"github.com/tusknet/tusk/storage/badger"
	"github.com/tusknet/tusk/utils/unittest"
)

// servingConduit answers certificate requests from a fixed set, recording
// the targets it was asked to contact.
type servingConduit struct {
	mu      sync.Mutex
	serving map[dag.Digest]*dag.Certificate
	targets []dag.Digest
}

func (c *servingConduit) Publish(event interface{}) error                       { return nil }
func (c *servingConduit) Unicast(target dag.Digest, event interface{}) error    { return nil }
func (c *servingConduit) Request(ctx context.Context, target dag.Digest, req interface{}) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append(c.targets, target)

	request := req.(*network.CertificateRequest)
	response := &network.CertificateResponse{}
	for _, certID := range request.CertIDs {
		if cert, ok := c.serving[certID]; ok {
			response.Certificates = append(response.Certificates, cert)
		}
	}
	return response, nil
}

func TestSynchronizerFetch(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		com, signers := unittest.CommitteeFixture(t, 4)
		store, err := dagstore.NewStore(unittest.Logger(), com, badger.NewCertificates(db))
		require.NoError(t, err)

		chain := unittest.ChainFixture(t, com, signers, 1)

		conduit := &servingConduit{serving: make(map[dag.Digest]*dag.Certificate)}
		for _, cert := range chain[1] {
			conduit.serving[cert.ID()] = cert
		}

		cfg := primary.DefaultConfig()
		primary.WithSyncRetry(10*time.Millisecond, 100*time.Millisecond)(&cfg)
		cfg.SyncBatchInterval = 10 * time.Millisecond

		handled := make(chan dag.Digest, 8)
		sync := primary.NewSynchronizer(unittest.Logger(), cfg, metrics.NewNoopCollector(), com, signers[0].Key, store, conduit,
			func(originID dag.Digest, cert *dag.Certificate) error {
				_, err := store.Insert(cert)
				if err != nil {
					return err
				}
				handled <- cert.ID()
				return nil
			})

		target := chain[1][0]
		sync.Request(target.ID(), 1, target.Author())

		// duplicate requests coalesce
		sync.Request(target.ID(), 1, target.Author())
		assert.Equal(t, 1, sync.Pending())

		// digests already present are not queued
		genesis := store.ByRound(0)[0]
		sync.Request(genesis.ID(), 0, genesis.Author())
		assert.Equal(t, 1, sync.Pending())

		unittest.RequireCloseBefore(t, sync.Ready(), time.Second)
		defer func() { unittest.RequireCloseBefore(t, sync.Done(), time.Second) }()

		select {
		case certID := <-handled:
			assert.Equal(t, target.ID(), certID)
		case <-time.After(2 * time.Second):
			t.Fatal("certificate was not fetched in time")
		}
		require.Eventually(t, func() bool { return sync.Pending() == 0 }, time.Second, 10*time.Millisecond)
		assert.True(t, store.Contains(target.ID()))

		// the first attempt goes to the certificate author
		conduit.mu.Lock()
		defer conduit.mu.Unlock()
		require.NotEmpty(t, conduit.targets)
		assert.Equal(t, target.Author(), conduit.targets[0])
	})
}

func TestSynchronizerRetriesUntilServed(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badgerdb.DB) {
		com, signers := unittest.CommitteeFixture(t, 4)
		store, err := dagstore.NewStore(unittest.Logger(), com, badger.NewCertificates(db))
		require.NoError(t, err)

		chain := unittest.ChainFixture(t, com, signers, 1)
		missing := chain[1][0]

		// nothing served at first, so every attempt comes back empty
		conduit := &servingConduit{serving: make(map[dag.Digest]*dag.Certificate)}

		cfg := primary.DefaultConfig()
		primary.WithSyncRetry(5*time.Millisecond, 20*time.Millisecond)(&cfg)
		cfg.SyncBatchInterval = 5 * time.Millisecond

		sync := primary.NewSynchronizer(unittest.Logger(), cfg, metrics.NewNoopCollector(), com, signers[0].Key, store, conduit,
			func(originID dag.Digest, cert *dag.Certificate) error {
				_, err := store.Insert(cert)
				return err
			})

		sync.Request(missing.ID(), 1, missing.Author())
		unittest.RequireCloseBefore(t, sync.Ready(), time.Second)
		defer func() { unittest.RequireCloseBefore(t, sync.Done(), time.Second) }()

		// a few empty round-trips happen, the item stays pending
		require.Eventually(t, func() bool {
			conduit.mu.Lock()
			defer conduit.mu.Unlock()
			return len(conduit.targets) >= 2
		}, time.Second, 5*time.Millisecond)
		assert.Equal(t, 1, sync.Pending())

		// once the peer serves the certificate, the retry picks it up
		conduit.mu.Lock()
		conduit.serving[missing.ID()] = missing
		conduit.mu.Unlock()

		require.Eventually(t, func() bool { return store.Contains(missing.ID()) }, 2*time.Second, 10*time.Millisecond)
		require.Eventually(t, func() bool { return sync.Pending() == 0 }, time.Second, 10*time.Millisecond)
	})
}
