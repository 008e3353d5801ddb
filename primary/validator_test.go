package primary_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/primary"
	"github.com/tusknet/tusk/utils/unittest"
)

func TestValidateHeader(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()

	signed := unittest.SignedHeaderFixture(t, signers[0])
	require.NoError(t, validator.ValidateHeader(signed))

	// round 0 is genesis
	genesis := unittest.SignedHeaderFixture(t, signers[1], unittest.WithRound(0))
	assert.True(t, dag.IsInvalidHeaderError(validator.ValidateHeader(genesis)))

	// tampering invalidates the signature
	tampered := unittest.SignedHeaderFixture(t, signers[1])
	tampered.Header.CreatedAt++
	assert.True(t, dag.IsInvalidHeaderError(validator.ValidateHeader(tampered)))

	// duplicate batch digests
	dup := unittest.HeaderFixture(signers[2])
	dup.Batches = append(dup.Batches, dup.Batches[0])
	sig, err := signers[2].Key.Sign(dag.HeaderMessage(dup.ID()))
	require.NoError(t, err)
	err = validator.ValidateHeader(&dag.SignedHeader{Header: dup, Sig: sig})
	assert.True(t, dag.IsInvalidHeaderError(err))

	// non-member author
	_, outsiders := unittest.CommitteeFixture(t, 1)
	foreign := unittest.SignedHeaderFixture(t, outsiders[0])
	assert.True(t, dag.IsInvalidHeaderError(validator.ValidateHeader(foreign)))
}

func TestValidateHeaderPayloadBound(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 1024)
	defer validator.Done()

	batch := func(size uint64) dag.BatchRef {
		return dag.BatchRef{Digest: unittest.DigestFixture(), Size: size}
	}

	// total referenced payload at the bound is fine
	full := unittest.SignedHeaderFixture(t, signers[0],
		unittest.WithBatches([]dag.BatchRef{batch(512), batch(512)}))
	require.NoError(t, validator.ValidateHeader(full))

	// one byte over the bound is rejected
	oversized := unittest.SignedHeaderFixture(t, signers[1],
		unittest.WithBatches([]dag.BatchRef{batch(512), batch(513)}))
	assert.True(t, dag.IsInvalidHeaderError(validator.ValidateHeader(oversized)))

	// an attacker cannot dodge the bound by declaring zero-size batches
	empty := unittest.SignedHeaderFixture(t, signers[2],
		unittest.WithBatches([]dag.BatchRef{batch(0)}))
	assert.True(t, dag.IsInvalidHeaderError(validator.ValidateHeader(empty)))
}

func TestValidateHeaderEquivocation(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()

	first := unittest.SignedHeaderFixture(t, signers[0])
	require.NoError(t, validator.ValidateHeader(first))

	// re-validating the identical header is fine
	require.NoError(t, validator.ValidateHeader(first))
	assert.False(t, validator.Flagged(signers[0].Identity.NodeID))

	// a differing header for the same (author, round) flags the author
	second := unittest.SignedHeaderFixture(t, signers[0])
	require.NotEqual(t, first.Header.ID(), second.Header.ID())
	err := validator.ValidateHeader(second)
	assert.True(t, dag.IsDoubleProposalError(err))
	assert.True(t, validator.Flagged(signers[0].Identity.NodeID))

	// pruning the round clears equivocation tracking
	validator.PruneByRound(2)
	require.NoError(t, validator.ValidateHeader(second))
}

func TestValidateVote(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()

	header := unittest.HeaderFixture(signers[0])
	vote := unittest.VoteFixture(t, signers[1], header)
	require.NoError(t, validator.ValidateVote(vote, header.ID(), header.Round))

	assert.True(t, dag.IsInvalidVoteError(validator.ValidateVote(vote, unittest.DigestFixture(), header.Round)))
	assert.True(t, dag.IsInvalidVoteError(validator.ValidateVote(vote, header.ID(), header.Round+1)))

	forged := *vote
	forged.Voter = signers[2].Identity.NodeID
	assert.True(t, dag.IsInvalidVoteError(validator.ValidateVote(&forged, header.ID(), header.Round)))
}

func TestValidateCertificate(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()

	header := unittest.HeaderFixture(signers[0], unittest.WithRound(2))

	// 3 of 4 equal-stake voters meet the quorum
	cert := unittest.CertificateFixture(t, header, signers[:3])
	require.NoError(t, validator.ValidateCertificate(cert))

	// 2 of 4 do not
	weak := unittest.CertificateFixture(t, header, signers[:2])
	assert.True(t, dag.IsInvalidCertificateError(validator.ValidateCertificate(weak)))

	// duplicated signer stake must not double-count
	doubled := unittest.CertificateFixture(t, header, signers[:2])
	doubled.Signers = append(doubled.Signers, doubled.Signers[0])
	doubled.Sigs = append(doubled.Sigs, doubled.Sigs[0])
	assert.True(t, dag.IsInvalidCertificateError(validator.ValidateCertificate(doubled)))

	// a corrupted vote signature is caught by the parallel verification
	corrupt := unittest.CertificateFixture(t, header, signers[:3])
	corrupt.Sigs[1] = corrupt.Sigs[2]
	assert.True(t, dag.IsInvalidCertificateError(validator.ValidateCertificate(corrupt)))

	// genesis certificates carry no votes
	genesis := dag.GenesisCertificate(signers[0].Identity.NodeID)
	require.NoError(t, validator.ValidateCertificate(genesis))
	badGenesis := dag.GenesisCertificate(unittest.DigestFixture())
	assert.True(t, dag.IsInvalidCertificateError(validator.ValidateCertificate(badGenesis)))
}

func TestValidateTimeoutCertificate(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()

	round := dag.Round(5)
	tc := &dag.TimeoutCertificate{Round: round}
	for _, signer := range signers[:3] {
		timeout := unittest.TimeoutVoteFixture(t, signer, round)
		tc.Signers = append(tc.Signers, timeout.Voter)
		tc.Sigs = append(tc.Sigs, timeout.Sig)
	}
	require.NoError(t, validator.ValidateTimeoutCertificate(tc))

	weak := &dag.TimeoutCertificate{Round: round, Signers: tc.Signers[:2], Sigs: tc.Sigs[:2]}
	require.Error(t, validator.ValidateTimeoutCertificate(weak))

	// signatures are round-bound
	wrongRound := &dag.TimeoutCertificate{Round: round + 1, Signers: tc.Signers, Sigs: tc.Sigs}
	require.Error(t, validator.ValidateTimeoutCertificate(wrongRound))
}
