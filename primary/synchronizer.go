package primary

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
	"github.com/tusknet/tusk/network"
)

// item tracks one missing certificate digest until it is fetched or its
// round falls below the GC watermark.
type item struct {
	certID    dag.Digest
	round     dag.Round
	author    dag.Digest // preferred fetch target
	attempts  uint
	timestamp time.Time     // last time the digest was requested
	interval  time.Duration // retry interval, grows geometrically
}

// Synchronizer backfills missing ancestor certificates referenced by
// incoming headers and certificates. Concurrent requests for the same digest
// are deduplicated; fetches prefer the certificate's author and fall back to
// random other peers on retry, with exponential backoff per item.
type Synchronizer struct {
	unit      *engine.Unit
	log       zerolog.Logger
	cfg       Config
	metrics   module.ConsensusMetrics
	committee *committee.Committee
	local     module.Local
	store     *dagstore.Store
	con       network.Conduit

	// handle processes a fetched certificate (validation + DAG insertion)
	handle func(originID dag.Digest, cert *dag.Certificate) error

	mu    sync.Mutex
	items map[dag.Digest]*item
}

func NewSynchronizer(
	log zerolog.Logger,
	cfg Config,
	metrics module.ConsensusMetrics,
	com *committee.Committee,
	local module.Local,
	store *dagstore.Store,
	con network.Conduit,
	handle func(originID dag.Digest, cert *dag.Certificate) error,
) *Synchronizer {
	return &Synchronizer{
		unit:      engine.NewUnit(),
		log:       log.With().Str("component", "synchronizer").Logger(),
		cfg:       cfg,
		metrics:   metrics,
		committee: com,
		local:     local,
		store:     store,
		con:       con,
		handle:    handle,
		items:     make(map[dag.Digest]*item),
	}
}

// Ready starts the dispatch loop.
func (s *Synchronizer) Ready() <-chan struct{} {
	s.unit.LaunchPeriodically(s.dispatchRequests, s.cfg.SyncBatchInterval, 0)
	return s.unit.Ready()
}

// Done stops the synchronizer and waits for in-flight fetches.
func (s *Synchronizer) Done() <-chan struct{} {
	return s.unit.Done()
}

// RequestParents queues fetches for all missing parents of the given header.
// Queuing the same digest twice is a no-op.
func (s *Synchronizer) RequestParents(header *dag.Header, missing dag.DigestList) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, certID := range missing {
		s.requestLocked(certID, header.Round-1, header.Author)
	}
}

// Request queues a fetch for a single certificate digest.
func (s *Synchronizer) Request(certID dag.Digest, round dag.Round, preferred dag.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requestLocked(certID, round, preferred)
}

func (s *Synchronizer) requestLocked(certID dag.Digest, round dag.Round, preferred dag.Digest) {
	if _, duplicate := s.items[certID]; duplicate {
		return
	}
	if s.store.Contains(certID) {
		return
	}
	s.items[certID] = &item{
		certID:   certID,
		round:    round,
		author:   preferred,
		interval: s.cfg.SyncRetryInitial,
	}
}

// Pending returns the number of digests currently awaiting fetch.
func (s *Synchronizer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// dispatchRequests groups all due items into one batch per target and sends
// the requests concurrently.
func (s *Synchronizer) dispatchRequests() {
	now := time.Now()
	gcRound := s.store.GCRound()

	s.mu.Lock()
	batches := make(map[dag.Digest]dag.DigestList)
	for certID, it := range s.items {
		if s.store.Contains(certID) {
			delete(s.items, certID)
			continue
		}
		// a digest whose round was pruned network-wide is unobtainable from
		// peers; the dependent certificate stays pending until an external
		// bootstrap supplies the history
		if it.round < gcRound {
			s.log.Warn().
				Hex("cert_id", certID[:8]).
				Uint64("round", uint64(it.round)).
				Msg("giving up on garbage-collected ancestor")
			delete(s.items, certID)
			continue
		}
		if now.Sub(it.timestamp) < it.interval {
			continue
		}

		target := s.pickTarget(it)
		if len(batches[target]) >= s.cfg.SyncBatchThreshold {
			continue
		}
		batches[target] = append(batches[target], certID)

		it.timestamp = now
		it.attempts++
		it.interval *= 2
		if it.interval > s.cfg.SyncRetryMaximum {
			it.interval = s.cfg.SyncRetryMaximum
		}
	}
	s.mu.Unlock()

	for target, certIDs := range batches {
		target, certIDs := target, certIDs
		s.unit.Launch(func() {
			err := s.fetch(target, certIDs)
			if err != nil {
				s.log.Debug().Err(err).Hex("target", target[:8]).Msg("fetch round-trip failed")
			}
		})
	}
}

// pickTarget prefers the certificate author for the first attempts, then
// rotates over random other committee members.
func (s *Synchronizer) pickTarget(it *item) dag.Digest {
	if it.attempts == 0 && it.author != s.local.NodeID() && s.committee.Contains(it.author) {
		return it.author
	}
	others := s.committee.Members().Filter(func(iy *dag.Identity) bool {
		return iy.NodeID != s.local.NodeID()
	})
	return others[rand.Intn(len(others))].NodeID
}

// fetch performs one request/response round-trip and hands every returned
// certificate to the configured handler.
func (s *Synchronizer) fetch(target dag.Digest, certIDs dag.DigestList) error {
	s.metrics.SyncRequestSent()

	ctx, cancel := context.WithTimeout(s.unit.Ctx(), s.cfg.SyncRetryMaximum)
	defer cancel()

	resp, err := s.con.Request(ctx, target, &network.CertificateRequest{CertIDs: certIDs})
	if err != nil {
		return fmt.Errorf("could not request certificates: %w", err)
	}
	response, ok := resp.(*network.CertificateResponse)
	if !ok {
		return fmt.Errorf("invalid response type (%T)", resp)
	}

	requested := certIDs.Lookup()
	var result *multierror.Error
	for _, cert := range response.Certificates {
		certID := cert.ID()
		if _, ok := requested[certID]; !ok {
			s.log.Warn().Hex("peer", target[:8]).Msg("peer sent non-requested certificate")
			continue
		}
		err = s.handle(target, cert)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("could not process fetched certificate %v: %w", certID, err))
			continue
		}
		s.mu.Lock()
		delete(s.items, certID)
		s.mu.Unlock()
	}
	return result.ErrorOrNil()
}
