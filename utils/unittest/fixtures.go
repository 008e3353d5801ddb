// Package unittest provides test fixtures and helpers shared across the
// package test suites.
package unittest

import (
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/committee"
	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/module"
)

// Logger returns a discarding logger; set TUSK_TEST_VERBOSE to stream debug
// output to stderr instead.
func Logger() zerolog.Logger {
	writer := zerolog.Nop()
	if os.Getenv("TUSK_TEST_VERBOSE") != "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}
	return writer
}

// DigestFixture returns a pseudo-random digest.
func DigestFixture() dag.Digest {
	var d dag.Digest
	rand.Read(d[:])
	return d
}

// Signer pairs a committee identity with its staking key, so fixtures can
// produce verifiable headers, votes and certificates.
type Signer struct {
	Identity *dag.Identity
	Key      *module.StakingKey
}

// CommitteeFixture returns a committee of n equally staked members together
// with their signing keys, ordered canonically.
func CommitteeFixture(t testing.TB, n int) (*committee.Committee, []*Signer) {
	members := make(dag.IdentityList, 0, n)
	byNodeID := make(map[dag.Digest]*Signer, n)
	for i := 0; i < n; i++ {
		sk, err := crypto.GenerateKey()
		require.NoError(t, err)
		identity, err := dag.NewIdentity(crypto.CompressPubkey(&sk.PublicKey), "localhost:0", 1000)
		require.NoError(t, err)
		members = append(members, identity)
		byNodeID[identity.NodeID] = &Signer{
			Identity: identity,
			Key:      module.NewStakingKey(sk),
		}
	}
	com, err := committee.New(1, members)
	require.NoError(t, err)

	// canonical order, matching the committee's member order
	signers := make([]*Signer, 0, n)
	for _, member := range com.Members() {
		signers = append(signers, byNodeID[member.NodeID])
	}
	return com, signers
}

// BatchRefFixture returns a batch reference with a random digest.
func BatchRefFixture() dag.BatchRef {
	return dag.BatchRef{
		Digest: DigestFixture(),
		Worker: 0,
		Size:   512,
	}
}

// HeaderFixture returns a round-1 header authored by the given signer, with
// one batch and no parents. Use the options to adjust round and ancestry.
func HeaderFixture(signer *Signer, opts ...func(*dag.Header)) *dag.Header {
	header := &dag.Header{
		Author:    signer.Identity.NodeID,
		Round:     1,
		Batches:   []dag.BatchRef{BatchRefFixture()},
		CreatedAt: uint64(time.Now().UnixMilli()),
	}
	for _, opt := range opts {
		opt(header)
	}
	return header
}

// WithRound sets the header round.
func WithRound(round dag.Round) func(*dag.Header) {
	return func(header *dag.Header) {
		header.Round = round
	}
}

// WithBatches sets the header batch references.
func WithBatches(batches []dag.BatchRef) func(*dag.Header) {
	return func(header *dag.Header) {
		header.Batches = batches
	}
}

// WithParents sets the header parents.
func WithParents(parents dag.DigestList) func(*dag.Header) {
	return func(header *dag.Header) {
		header.Parents = parents.Sort()
	}
}

// SignedHeaderFixture returns a header signed by its author.
func SignedHeaderFixture(t testing.TB, signer *Signer, opts ...func(*dag.Header)) *dag.SignedHeader {
	header := HeaderFixture(signer, opts...)
	sig, err := signer.Key.Sign(dag.HeaderMessage(header.ID()))
	require.NoError(t, err)
	return &dag.SignedHeader{
		Header: header,
		Sig:    sig,
	}
}

// VoteFixture returns the given voter's vote for the header.
func VoteFixture(t testing.TB, voter *Signer, header *dag.Header) *dag.Vote {
	headerID := header.ID()
	sig, err := voter.Key.Sign(dag.VoteMessage(headerID, header.Round))
	require.NoError(t, err)
	return &dag.Vote{
		HeaderID: headerID,
		Round:    header.Round,
		Voter:    voter.Identity.NodeID,
		Sig:      sig,
	}
}

// CertificateFixture returns a certificate for the given header carrying
// valid votes from all provided voters.
func CertificateFixture(t testing.TB, header *dag.Header, voters []*Signer) *dag.Certificate {
	headerID := header.ID()
	signers := make(dag.DigestList, 0, len(voters))
	for _, voter := range voters {
		signers = append(signers, voter.Identity.NodeID)
	}
	signers.Sort()

	byNodeID := make(map[dag.Digest]*Signer, len(voters))
	for _, voter := range voters {
		byNodeID[voter.Identity.NodeID] = voter
	}
	sigs := make([][]byte, 0, len(signers))
	for _, nodeID := range signers {
		sig, err := byNodeID[nodeID].Key.Sign(dag.VoteMessage(headerID, header.Round))
		require.NoError(t, err)
		sigs = append(sigs, sig)
	}
	return &dag.Certificate{
		Header:  *header,
		Signers: signers,
		Sigs:    sigs,
	}
}

// TimeoutVoteFixture returns the given voter's timeout attestation for the
// round.
func TimeoutVoteFixture(t testing.TB, voter *Signer, round dag.Round) *dag.TimeoutVote {
	sig, err := voter.Key.Sign(dag.TimeoutMessage(round))
	require.NoError(t, err)
	return &dag.TimeoutVote{
		Round: round,
		Voter: voter.Identity.NodeID,
		Sig:   sig,
	}
}

// RoundFixture builds one fully connected DAG round: every signer authors a
// certificate whose parents are all certificates of the previous round.
func RoundFixture(t testing.TB, round dag.Round, signers []*Signer, parents []*dag.Certificate) []*dag.Certificate {
	parentIDs := make(dag.DigestList, 0, len(parents))
	for _, parent := range parents {
		parentIDs = append(parentIDs, parent.ID())
	}
	parentIDs.Sort()

	certs := make([]*dag.Certificate, 0, len(signers))
	for _, signer := range signers {
		header := HeaderFixture(signer, WithRound(round), WithParents(parentIDs))
		certs = append(certs, CertificateFixture(t, header, signers))
	}
	return certs
}

// ChainFixture builds a fully connected DAG from round 1 through the given
// round, rooted in the committee's genesis certificates. The result maps
// each round to its certificates in signer order.
func ChainFixture(t testing.TB, com *committee.Committee, signers []*Signer, rounds dag.Round) map[dag.Round][]*dag.Certificate {
	genesis := make([]*dag.Certificate, 0, len(signers))
	for _, member := range com.Members() {
		genesis = append(genesis, dag.GenesisCertificate(member.NodeID))
	}

	chain := make(map[dag.Round][]*dag.Certificate, rounds)
	parents := genesis
	for round := dag.Round(1); round <= rounds; round++ {
		certs := RoundFixture(t, round, signers, parents)
		chain[round] = certs
		parents = certs
	}
	return chain
}
