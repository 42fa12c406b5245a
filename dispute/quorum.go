package dispute

import "github.com/holiman/uint256"

// QuorumReached reports whether cast weight satisfies
// cast*100 >= percent*supply. The products are computed in 256 bits so large
// supplies cannot overflow.
func QuorumReached(cast, supply, percent int64) bool {
	if cast < 0 || supply < 0 || percent < 0 {
		return false
	}
	lhs := new(uint256.Int).Mul(uint256.NewInt(uint64(cast)), uint256.NewInt(100))
	rhs := new(uint256.Int).Mul(uint256.NewInt(uint64(percent)), uint256.NewInt(uint64(supply)))
	return !lhs.Lt(rhs)
}
