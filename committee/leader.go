package committee

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/sha3"

	"github.com/tusknet/tusk/model/dag"
)

const leaderSelectionTag = "tusk-leader-v1"

// LeaderSchedule deterministically elects one committee member as the
// designated leader for each leader round. The selection is a pure function
// of (epoch, committee, round): every honest node computes the same leader
// without exchanging messages. The chance of being selected is proportional
// to stake.
type LeaderSchedule struct {
	committee *Committee
	stride    dag.Round

	// memberIDs is the canonically ordered list of node IDs; weightSums is
	// the cumulative stake over the same order, used for stake-proportional
	// selection by binary search.
	memberIDs  dag.DigestList
	weightSums []uint64
}

// NewLeaderSchedule creates the leader schedule for the given committee.
// stride is the distance between consecutive leader rounds; stride 2 means
// every even round has a designated leader.
func NewLeaderSchedule(committee *Committee, stride dag.Round) (*LeaderSchedule, error) {
	if stride == 0 {
		return nil, dag.NewConfigurationErrorf("leader round stride must be positive")
	}
	members := committee.Members()
	if len(members) >= math.MaxUint16 {
		return nil, dag.NewConfigurationErrorf("number of possible leaders (%d) exceeds maximum (2^16-1)", len(members))
	}

	// cumulative sum of stake; the i-th member is selected when the round
	// randomness falls into its weight range
	weightSums := make([]uint64, 0, len(members))
	var cumsum uint64
	for _, member := range members {
		cumsum += member.Stake
		weightSums = append(weightSums, cumsum)
	}

	return &LeaderSchedule{
		committee:  committee,
		stride:     stride,
		memberIDs:  members.NodeIDs(),
		weightSums: weightSums,
	}, nil
}

// IsLeaderRound returns whether the given round has a designated leader.
// Round 0 is genesis and never a leader round.
func (s *LeaderSchedule) IsLeaderRound(round dag.Round) bool {
	return round > 0 && round%s.stride == 0
}

// NextLeaderRound returns the first leader round strictly after the given
// round.
func (s *LeaderSchedule) NextLeaderRound(round dag.Round) dag.Round {
	next := round - round%s.stride + s.stride
	return next
}

// LeaderForRound returns the node ID of the designated leader for the given
// leader round. It errors if the round is not a leader round.
func (s *LeaderSchedule) LeaderForRound(round dag.Round) (dag.Digest, error) {
	if !s.IsLeaderRound(round) {
		return dag.ZeroDigest, fmt.Errorf("round %d is not a leader round (stride %d)", round, s.stride)
	}

	// derive the round randomness from the epoch and round only, so the
	// selection is identical on all nodes
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], s.committee.Epoch())
	binary.BigEndian.PutUint64(buf[8:16], uint64(round))
	seed := sha3.Sum256(append([]byte(leaderSelectionTag), buf[:]...))
	randomness := binary.BigEndian.Uint64(seed[:8]) % s.committee.TotalStake()

	leader := binarySearchStrictlyBigger(randomness, s.weightSums)
	return s.memberIDs[leader], nil
}

// binarySearchStrictlyBigger finds the index of the first item in the given
// array that is strictly bigger than the given value. Assumptions on inputs:
//   - `arr` must be non-empty
//   - items in `arr` must be in non-decreasing order
//   - `value` must be less than the last item in `arr`
func binarySearchStrictlyBigger(value uint64, arr []uint64) int {
	left := 0
	arrayLen := len(arr)
	right := arrayLen - 1
	mid := arrayLen >> 1
	for {
		if arr[mid] <= value {
			left = mid + 1
		} else {
			right = mid
		}

		if left >= right {
			return left
		}

		mid = (left + right) >> 1
	}
}
