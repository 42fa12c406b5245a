package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"freelancedao/fault"
)

// ErrInvalidAccount signals a string that is not a 20-byte hex address.
var ErrInvalidAccount = fault.New(fault.Invalid, "identity: invalid account address")

// ParseAccount validates a hex address and returns its EIP-55 checksum form,
// which is the canonical key used across every table.
func ParseAccount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAccount
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return "", ErrInvalidAccount
	}
	return addr.Hex(), nil
}

// MustAccount is ParseAccount for constants and tests.
func MustAccount(s string) string {
	acct, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return acct
}
