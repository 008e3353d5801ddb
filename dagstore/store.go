// Package dagstore maintains the round-indexed, append-only certificate DAG
// shared by the certifier, the synchronizer and the consensus engine. The
// in-memory arena is write-through to the durable certificate store, so a
// restart reloads every certificate that has not been garbage-collected.
package dagstore

import (
	"fmt"
	"sync"

	"github.com/ef-ds/deque"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/engine"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/storage"
)

// Store is the certificate DAG arena. All mutation happens through Insert,
// an atomic insert-if-absent keyed by digest with a (round, author) slot
// index, which makes the store effectively append-only and safely shared
// without coarse locking.
type Store struct {
	log       zerolog.Logger
	committee *committee.Committee
	durable   storage.Certificates

	mu      sync.RWMutex
	byID    map[dag.Digest]*dag.Certificate
	byRound map[dag.Round]map[dag.Digest]*dag.Certificate // round -> author -> certificate

	// gcRound is the garbage collection watermark: all rounds strictly below
	// it have been pruned. Reads are lock-free.
	gcRound *atomic.Uint64
}

// NewStore creates the DAG store, seeds the genesis certificates for every
// committee member, and reloads all previously stored certificates.
func NewStore(log zerolog.Logger, com *committee.Committee, durable storage.Certificates) (*Store, error) {

	s := &Store{
		log:       log.With().Str("component", "dagstore").Logger(),
		committee: com,
		durable:   durable,
		byID:      make(map[dag.Digest]*dag.Certificate),
		byRound:   make(map[dag.Round]map[dag.Digest]*dag.Certificate),
		gcRound:   atomic.NewUint64(0),
	}

	// genesis certificates exist by convention for every member
	for _, member := range com.Members() {
		genesis := dag.GenesisCertificate(member.NodeID)
		err := durable.Store(genesis)
		if err != nil {
			return nil, fmt.Errorf("could not store genesis certificate: %w", err)
		}
		s.add(genesis)
	}

	// restart recovery: reload everything that survived garbage collection
	rounds, err := durable.Rounds()
	if err != nil {
		return nil, fmt.Errorf("could not scan stored rounds: %w", err)
	}
	for _, round := range rounds {
		certs, err := durable.ByRound(round)
		if err != nil {
			return nil, fmt.Errorf("could not reload round %d: %w", round, err)
		}
		for _, cert := range certs {
			s.add(cert)
		}
	}

	return s, nil
}

// add registers the certificate in the in-memory indices. Caller must hold
// the write lock (or be the constructor).
func (s *Store) add(cert *dag.Certificate) {
	s.byID[cert.ID()] = cert
	slot, ok := s.byRound[cert.Round()]
	if !ok {
		slot = make(map[dag.Digest]*dag.Certificate)
		s.byRound[cert.Round()] = slot
	}
	slot[cert.Author()] = cert
}

// Insert adds a validated certificate to the DAG. It returns whether the
// certificate was newly inserted (false for an idempotent duplicate).
//
// Error returns:
//   - engine.OutdatedInputError if the round is below the GC watermark
//   - dag.MissingParentsError if any parent is not yet in the store
//   - engine.InvalidInputError if the parent quorum is not met, or if a
//     different certificate already occupies the (author, round) slot
//     (equivocation that reached quorum)
func (s *Store) Insert(cert *dag.Certificate) (bool, error) {
	round := cert.Round()
	if uint64(round) < s.gcRound.Load() {
		return false, engine.NewOutdatedInputErrorf("certificate round %d below GC watermark %d", round, s.gcRound.Load())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	certID := cert.ID()
	if _, ok := s.byID[certID]; ok {
		return false, nil
	}

	if existing, ok := s.byRound[round][cert.Author()]; ok {
		// the slot invariant is enforced first-seen; a conflicting quorum
		// certificate is proof of equivocation by the author
		return false, engine.NewInvalidInputErrorf(
			"conflicting certificate for (%v, %d): have %v, got %v",
			cert.Author(), round, existing.ID(), certID)
	}

	if round > 0 {
		missing := s.missingParents(cert.Header.Parents)
		if len(missing) > 0 {
			return false, dag.MissingParentsError{
				HeaderID: certID,
				Round:    round,
				Missing:  missing,
			}
		}
		parentStake, err := s.parentStake(round, cert.Header.Parents)
		if err != nil {
			return false, engine.NewInvalidInputErrorf("invalid parent set: %s", err)
		}
		if parentStake < s.committee.QuorumThreshold() {
			return false, engine.NewInvalidInputErrorf(
				"parent stake %d below quorum %d", parentStake, s.committee.QuorumThreshold())
		}
	}

	err := s.durable.Store(cert)
	if err != nil {
		// durability cannot be guaranteed; the caller escalates to process
		// termination
		return false, fmt.Errorf("could not persist certificate %v: %w", certID, err)
	}
	s.add(cert)

	s.log.Debug().
		Uint64("round", uint64(round)).
		Hex("author", logID(cert.Author())).
		Hex("cert_id", logID(certID)).
		Msg("certificate inserted")

	return true, nil
}

// missingParents returns the subset of parents absent from the store. Caller
// must hold at least the read lock.
func (s *Store) missingParents(parents dag.DigestList) dag.DigestList {
	var missing dag.DigestList
	for _, parentID := range parents {
		if _, ok := s.byID[parentID]; !ok {
			missing = append(missing, parentID)
		}
	}
	return missing
}

// parentStake sums the stake of the authors of the given parent
// certificates, checking that each parent sits at round-1 and that no author
// is counted twice. Caller must hold at least the read lock.
func (s *Store) parentStake(round dag.Round, parents dag.DigestList) (uint64, error) {
	var stake uint64
	seen := make(map[dag.Digest]struct{}, len(parents))
	for _, parentID := range parents {
		parent := s.byID[parentID]
		if parent.Round() != round-1 {
			return 0, fmt.Errorf("parent %v at round %d, expected %d", parentID, parent.Round(), round-1)
		}
		if _, ok := seen[parent.Author()]; ok {
			return 0, fmt.Errorf("duplicate parent author %v", parent.Author())
		}
		seen[parent.Author()] = struct{}{}
		stake += s.committee.StakeOf(parent.Author())
	}
	return stake, nil
}

// Get returns the certificate with the given digest, if present.
func (s *Store) Get(certID dag.Digest) (*dag.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.byID[certID]
	return cert, ok
}

// Contains checks whether the certificate with the given digest is present.
func (s *Store) Contains(certID dag.Digest) bool {
	_, ok := s.Get(certID)
	return ok
}

// ByRound returns all certificates of the given round.
func (s *Store) ByRound(round dag.Round) []*dag.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot := s.byRound[round]
	certs := make([]*dag.Certificate, 0, len(slot))
	for _, cert := range slot {
		certs = append(certs, cert)
	}
	return certs
}

// ByAuthorRound returns the certificate occupying the (author, round) slot.
func (s *Store) ByAuthorRound(author dag.Digest, round dag.Round) (*dag.Certificate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cert, ok := s.byRound[round][author]
	return cert, ok
}

// HighestRound returns the highest round holding at least one certificate.
func (s *Store) HighestRound() dag.Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var highest dag.Round
	for round := range s.byRound {
		if round > highest {
			highest = round
		}
	}
	return highest
}

// StakeAtRound returns the combined stake of the authors of all certificates
// observed at the given round.
func (s *Store) StakeAtRound(round dag.Round) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stake uint64
	for author := range s.byRound[round] {
		stake += s.committee.StakeOf(author)
	}
	return stake
}

// MissingParents returns the parents of the given header that are absent
// from the store.
func (s *Store) MissingParents(header *dag.Header) dag.DigestList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missingParents(header.Parents)
}

// Reachable determines whether target is an ancestor of (or equal to) the
// given certificate. The walk is an explicit frontier traversal bounded
// below by the target's round; parents below the GC watermark terminate the
// walk.
func (s *Store) Reachable(from *dag.Certificate, target dag.Digest, targetRound dag.Round) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reachable(from, target, targetRound)
}

func (s *Store) reachable(from *dag.Certificate, target dag.Digest, targetRound dag.Round) bool {
	if from.ID() == target {
		return true
	}
	if from.Round() <= targetRound {
		return false
	}

	visited := make(map[dag.Digest]struct{})
	var frontier deque.Deque
	frontier.PushBack(from)

	for frontier.Len() > 0 {
		next, _ := frontier.PopFront()
		cert := next.(*dag.Certificate)
		for _, parentID := range cert.Header.Parents {
			if parentID == target {
				return true
			}
			if _, ok := visited[parentID]; ok {
				continue
			}
			visited[parentID] = struct{}{}
			parent, ok := s.byID[parentID]
			if !ok {
				continue
			}
			if parent.Round() > targetRound {
				frontier.PushBack(parent)
			}
		}
	}
	return false
}

// CausalClosure collects the transitive parent set of the given certificate,
// itself included, skipping certificates for which the skip predicate
// returns true (and not traversing below them). The result is unordered.
func (s *Store) CausalClosure(from *dag.Certificate, skip func(dag.Digest) bool) []*dag.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var closure []*dag.Certificate
	visited := map[dag.Digest]struct{}{from.ID(): {}}
	var frontier deque.Deque
	if skip == nil || !skip(from.ID()) {
		frontier.PushBack(from)
		closure = append(closure, from)
	}

	for frontier.Len() > 0 {
		next, _ := frontier.PopFront()
		cert := next.(*dag.Certificate)
		for _, parentID := range cert.Header.Parents {
			if _, ok := visited[parentID]; ok {
				continue
			}
			visited[parentID] = struct{}{}
			if skip != nil && skip(parentID) {
				continue
			}
			parent, ok := s.byID[parentID]
			if !ok {
				// ancestry below the GC watermark is already committed
				continue
			}
			closure = append(closure, parent)
			frontier.PushBack(parent)
		}
	}
	return closure
}

// GCRound returns the garbage collection watermark: all rounds strictly
// below it have been pruned.
func (s *Store) GCRound() dag.Round {
	return dag.Round(s.gcRound.Load())
}

// PruneBelow removes all certificates with round strictly lower than the
// given round from the arena and the durable store, and raises the GC
// watermark. Only rounds already reflected in the commit sequence may be
// pruned.
func (s *Store) PruneBelow(round dag.Round) error {
	if uint64(round) <= s.gcRound.Load() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.durable.PruneBelow(round)
	if err != nil {
		return fmt.Errorf("could not prune durable store below round %d: %w", round, err)
	}

	pruned := 0
	for r, slot := range s.byRound {
		if r >= round {
			continue
		}
		for _, cert := range slot {
			delete(s.byID, cert.ID())
			pruned++
		}
		delete(s.byRound, r)
	}
	s.gcRound.Store(uint64(round))

	s.log.Debug().
		Uint64("gc_round", uint64(round)).
		Int("pruned", pruned).
		Msg("dag store pruned")

	return nil
}

func logID(d dag.Digest) []byte {
	return d[:8]
}
