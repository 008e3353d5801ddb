package primary_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/primary"
	"github.com/tusknet/tusk/utils/unittest"
)

func certifierFixture(t *testing.T) (*primary.Certifier, *primary.Validator, []*unittest.Signer) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	t.Cleanup(validator.Done)
	certifier := primary.NewCertifier(unittest.Logger(), com, signers[0].Key, validator)
	return certifier, validator, signers
}

func TestCertifierQuorum(t *testing.T) {
	certifier, validator, signers := certifierFixture(t)

	header := unittest.HeaderFixture(signers[0])
	require.NoError(t, certifier.TrackHeader(header))
	assert.Equal(t, dag.Round(1), certifier.Round())

	// own vote counts; one peer vote is 2 of 4, below quorum
	cert, err := certifier.AddVote(unittest.VoteFixture(t, signers[1], header))
	require.NoError(t, err)
	assert.Nil(t, cert)

	// the third vote crosses 2667 of 4000 stake
	cert, err = certifier.AddVote(unittest.VoteFixture(t, signers[2], header))
	require.NoError(t, err)
	require.NotNil(t, cert)
	assert.Equal(t, header.ID(), cert.ID())
	assert.Len(t, cert.Signers, 3)
	require.NoError(t, validator.ValidateCertificate(cert))

	// at most one certificate per round is assembled
	cert, err = certifier.AddVote(unittest.VoteFixture(t, signers[3], header))
	require.NoError(t, err)
	assert.Nil(t, cert)
}

func TestCertifierDuplicateAndDoubleVotes(t *testing.T) {
	certifier, _, signers := certifierFixture(t)

	header := unittest.HeaderFixture(signers[0])
	require.NoError(t, certifier.TrackHeader(header))

	vote := unittest.VoteFixture(t, signers[1], header)
	cert, err := certifier.AddVote(vote)
	require.NoError(t, err)
	assert.Nil(t, cert)

	// duplicate delivery of the identical vote is a no-op
	cert, err = certifier.AddVote(vote)
	require.NoError(t, err)
	assert.Nil(t, cert)

	// a tampered re-send from the same voter is rejected
	differing := *vote
	differing.Sig = append([]byte{}, vote.Sig...)
	differing.Sig[10] ^= 0xff
	_, err = certifier.AddVote(&differing)
	require.Error(t, err)
}

func TestCertifierObsoleteVotes(t *testing.T) {
	certifier, _, signers := certifierFixture(t)

	// votes arriving before any header is tracked are obsolete, not faults
	stray := unittest.VoteFixture(t, signers[1], unittest.HeaderFixture(signers[0]))
	cert, err := certifier.AddVote(stray)
	require.NoError(t, err)
	assert.Nil(t, cert)

	header := unittest.HeaderFixture(signers[0], unittest.WithRound(3))
	require.NoError(t, certifier.TrackHeader(header))

	// votes for a superseded round are dropped silently
	old := unittest.VoteFixture(t, signers[1], unittest.HeaderFixture(signers[0], unittest.WithRound(2)))
	cert, err = certifier.AddVote(old)
	require.NoError(t, err)
	assert.Nil(t, cert)

	// tracked rounds must increase
	require.Error(t, certifier.TrackHeader(unittest.HeaderFixture(signers[0], unittest.WithRound(2))))

	// only own headers are tracked
	require.Error(t, certifier.TrackHeader(unittest.HeaderFixture(signers[1], unittest.WithRound(9))))
}
