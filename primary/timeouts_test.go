package primary_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tusknet/tusk/model/dag"
	"github.com/tusknet/tusk/primary"
	"github.com/tusknet/tusk/utils/unittest"
)

func TestTimeoutAggregatorQuorum(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()
	aggregator := primary.NewTimeoutAggregator(unittest.Logger(), com, validator)

	round := dag.Round(3)

	tc, err := aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[0], round))
	require.NoError(t, err)
	assert.Nil(t, tc)

	// duplicate attestation is a no-op
	tc, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[0], round))
	require.NoError(t, err)
	assert.Nil(t, tc)

	tc, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[1], round))
	require.NoError(t, err)
	assert.Nil(t, tc)

	// third distinct attestation reaches quorum, exactly once
	tc, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[2], round))
	require.NoError(t, err)
	require.NotNil(t, tc)
	assert.Equal(t, round, tc.Round)
	assert.Len(t, tc.Signers, 3)
	require.NoError(t, validator.ValidateTimeoutCertificate(tc))

	tc, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[3], round))
	require.NoError(t, err)
	assert.Nil(t, tc)
}

func TestTimeoutAggregatorStake(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()
	aggregator := primary.NewTimeoutAggregator(unittest.Logger(), com, validator)

	round := dag.Round(5)
	assert.Zero(t, aggregator.StakeAtRound(round))

	_, err := aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[0], round))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), aggregator.StakeAtRound(round))

	// duplicates do not inflate the stake
	_, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[0], round))
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), aggregator.StakeAtRound(round))

	// two distinct attestations cover the validity threshold (f+1), the
	// amplification trigger
	_, err = aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[1], round))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, aggregator.StakeAtRound(round), com.ValidityThreshold())
}

func TestTimeoutAggregatorValidation(t *testing.T) {
	com, signers := unittest.CommitteeFixture(t, 4)
	validator := primary.NewValidator(unittest.Logger(), com, 2, 4<<20)
	defer validator.Done()
	aggregator := primary.NewTimeoutAggregator(unittest.Logger(), com, validator)

	// non-member attestation
	_, outsiders := unittest.CommitteeFixture(t, 1)
	_, err := aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, outsiders[0], 1))
	require.Error(t, err)

	// attestation signatures are round-bound
	forged := unittest.TimeoutVoteFixture(t, signers[0], 1)
	forged.Round = 2
	_, err = aggregator.AddTimeout(forged)
	require.Error(t, err)

	// rounds are independent collectors
	for i, signer := range signers[:3] {
		tc, err := aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signer, 7))
		require.NoError(t, err)
		if i < 2 {
			assert.Nil(t, tc)
		} else {
			assert.NotNil(t, tc)
		}
	}

	aggregator.PruneByRound(8)
	tc, err := aggregator.AddTimeout(unittest.TimeoutVoteFixture(t, signers[3], 7))
	require.NoError(t, err)
	assert.Nil(t, tc)
}
