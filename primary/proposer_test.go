package primary_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/dagstore"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module/metrics"
	modulemock "github.com/tusknet/tusk/module/mock"
	"github.com/tusknet/tusk/primary"
	badgerstore "github.com/tusknet/tusk/storage/badger"
	"github.com/tusknet/tusk/utils/unittest"
)

// recordingConduit collects published events; the first failures publishes
// error out to simulate a flaky transport.
type recordingConduit struct {
	mu        sync.Mutex
	failures  int
	published []interface{}
}

func (c *recordingConduit) Publish(event interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("transient send failure")
	}
	c.published = append(c.published, event)
	return nil
}

func (c *recordingConduit) Unicast(targetID dag.Digest, event interface{}) error {
	return c.Publish(event)
}

func (c *recordingConduit) Request(ctx context.Context, targetID dag.Digest, req interface{}) (interface{}, error) {
	return nil, fmt.Errorf("request not supported")
}

func (c *recordingConduit) events() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]interface{}{}, c.published...)
}

// proposerFixture wires a proposer with recording conduits over a committee
// of 4 and a badger-backed DAG store.
type proposerFixture struct {
	com       *committee.Committee
	signers   []*unittest.Signer
	schedule  *committee.LeaderSchedule
	store     *dagstore.Store
	validator *primary.Validator
	timeouts  *primary.TimeoutAggregator
	headers   *recordingConduit
	votes     *recordingConduit
	certs     *recordingConduit
}

func newProposerFixture(t *testing.T, db *badger.DB) *proposerFixture {
	com, signers := unittest.CommitteeFixture(t, 4)
	schedule, err := committee.NewLeaderSchedule(com, 2)
	require.NoError(t, err)
	store, err := dagstore.NewStore(unittest.Logger(), com, badgerstore.NewCertificates(db))
	require.NoError(t, err)

	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	t.Cleanup(validator.Done)

	return &proposerFixture{
		com:       com,
		signers:   signers,
		schedule:  schedule,
		store:     store,
		validator: validator,
		timeouts:  primary.NewTimeoutAggregator(unittest.Logger(), com, validator),
		headers:   &recordingConduit{},
		votes:     &recordingConduit{},
		certs:     &recordingConduit{},
	}
}

// start launches a proposer for the given signer with a long round timeout,
// so only explicit notifications advance it past an incomplete round.
func (f *proposerFixture) start(t *testing.T, local *unittest.Signer) *primary.Proposer {
	cfg := primary.DefaultConfig()
	cfg.MinRoundDelay = time.Millisecond
	cfg.RoundTimeout = time.Minute

	worker := new(modulemock.WorkerProvider)
	worker.On("OwnBatchRefs", mock.Anything).Return([]dag.BatchRef{unittest.BatchRefFixture()})

	certifier := primary.NewCertifier(unittest.Logger(), f.com, local.Key, f.validator)
	prop := primary.NewProposer(unittest.Logger(), cfg, metrics.NewNoopCollector(),
		f.com, f.schedule, local.Key, worker, f.store, f.timeouts, certifier,
		f.headers, f.votes, f.certs)

	unittest.RequireCloseBefore(t, prop.Ready(), time.Second)
	t.Cleanup(func() {
		unittest.RequireCloseBefore(t, prop.Done(), 5*time.Second)
	})
	return prop
}

// A transient publish failure must not wedge the round loop: the proposer
// retries the identical header until the broadcast goes through.
func TestProposerRetriesFailedPublish(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		fixture := newProposerFixture(t, db)
		fixture.headers.failures = 1

		fixture.start(t, fixture.signers[0])

		require.Eventually(t, func() bool {
			return len(fixture.headers.events()) >= 1
		}, 2*time.Second, 10*time.Millisecond, "proposer never recovered from the failed publish")

		published := fixture.headers.events()
		signed, ok := published[0].(*dag.SignedHeader)
		require.True(t, ok)
		assert.Equal(t, dag.Round(1), signed.Header.Round)
		assert.Equal(t, fixture.signers[0].Identity.NodeID, signed.Header.Author)

		// the retry must re-send the same header; a rebuilt one would be a
		// double proposal
		for _, event := range published[1:] {
			again, ok := event.(*dag.SignedHeader)
			require.True(t, ok)
			assert.Equal(t, signed.Header.ID(), again.Header.ID())
		}
	})
}

// A timeout certificate advances the proposer past an incomplete round: here
// round 2 holds quorum stake but is missing its designated leader, so the
// proposer waits until the committee's timeout certificate releases it.
func TestProposerAdvancesOnTimeoutCertificate(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		fixture := newProposerFixture(t, db)

		round1 := unittest.RoundFixture(t, 1, fixture.signers, genesisCertificates(fixture.com))
		parentIDs := make(dag.DigestList, 0, len(round1))
		for _, cert := range round1 {
			_, err := fixture.store.Insert(cert)
			require.NoError(t, err)
			parentIDs = append(parentIDs, cert.ID())
		}
		parentIDs.Sort()

		leaderID, err := fixture.schedule.LeaderForRound(2)
		require.NoError(t, err)
		var local *unittest.Signer
		round2 := make(dag.DigestList, 0, 3)
		for _, signer := range fixture.signers {
			if signer.Identity.NodeID == leaderID {
				continue
			}
			local = signer
			header := unittest.HeaderFixture(signer, unittest.WithRound(2), unittest.WithParents(parentIDs))
			cert := unittest.CertificateFixture(t, header, fixture.signers)
			_, err := fixture.store.Insert(cert)
			require.NoError(t, err)
			round2 = append(round2, cert.ID())
		}
		round2.Sort()

		prop := fixture.start(t, local)

		// quorum stake is present but the leader certificate is not; the
		// proposer must keep waiting
		time.Sleep(100 * time.Millisecond)
		require.Empty(t, fixture.headers.events())

		tc := timeoutCertificateFixture(t, 2, fixture.signers[:3])
		prop.NotifyTimeoutCertificate(tc)

		require.Eventually(t, func() bool {
			return len(fixture.headers.events()) >= 1
		}, 2*time.Second, 10*time.Millisecond, "timeout certificate did not advance the round")

		signed, ok := fixture.headers.events()[0].(*dag.SignedHeader)
		require.True(t, ok)
		assert.Equal(t, dag.Round(3), signed.Header.Round)
		assert.Equal(t, round2, signed.Header.Parents)
	})
}

// Once f+1 stake attests to a timeout, the proposer joins it immediately
// instead of waiting for its own timer.
func TestProposerJoinsTimeoutQuorum(t *testing.T) {
	unittest.RunWithBadgerDB(t, func(db *badger.DB) {
		fixture := newProposerFixture(t, db)

		// only two round-1 certificates: below quorum, the proposer stalls
		round1 := unittest.RoundFixture(t, 1, fixture.signers, genesisCertificates(fixture.com))
		for _, cert := range round1[:2] {
			_, err := fixture.store.Insert(cert)
			require.NoError(t, err)
		}

		prop := fixture.start(t, fixture.signers[0])

		time.Sleep(50 * time.Millisecond)
		require.Empty(t, fixture.headers.events())
		require.Empty(t, fixture.votes.events())

		prop.NotifyTimeoutQuorum(1)

		require.Eventually(t, func() bool {
			return len(fixture.votes.events()) >= 1
		}, 2*time.Second, 10*time.Millisecond, "proposer did not join the timeout")

		timeout, ok := fixture.votes.events()[0].(*dag.TimeoutVote)
		require.True(t, ok)
		assert.Equal(t, dag.Round(1), timeout.Round)
		assert.Equal(t, fixture.signers[0].Identity.NodeID, timeout.Voter)
		assert.Equal(t, uint64(1000), fixture.timeouts.StakeAtRound(1))

		// still no header: the attestation alone does not relax the parent
		// quorum rule
		assert.Empty(t, fixture.headers.events())
	})
}

func genesisCertificates(com *committee.Committee) []*dag.Certificate {
	genesis := make([]*dag.Certificate, 0, len(com.Members()))
	for _, member := range com.Members() {
		genesis = append(genesis, dag.GenesisCertificate(member.NodeID))
	}
	return genesis
}

func timeoutCertificateFixture(t *testing.T, round dag.Round, signers []*unittest.Signer) *dag.TimeoutCertificate {
	tc := &dag.TimeoutCertificate{Round: round}
	for _, signer := range signers {
		sig, err := signer.Key.Sign(dag.TimeoutMessage(round))
		require.NoError(t, err)
		tc.Signers = append(tc.Signers, signer.Identity.NodeID)
		tc.Sigs = append(tc.Sigs, sig)
	}
	return tc
}
