// Package identity validates and canonicalizes participant identifiers.
// An identity is a 20-byte account address; its canonical form is the
// EIP-55 checksummed hex string.
package identity

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/medblocks/medvault/pkg/faults"
)

// Parse validates s and returns the address it names. Malformed hex, wrong
// length, and checksum violations on mixed-case input all fail with
// faults.ErrInvalidIdentity. All-lowercase and all-uppercase inputs are
// checksum-exempt, matching web3 address semantics.
func Parse(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q is not a 20-byte hex address", faults.ErrInvalidIdentity, s)
	}

	addr := common.HexToAddress(s)

	hexPart := s
	if strings.HasPrefix(hexPart, "0x") || strings.HasPrefix(hexPart, "0X") {
		hexPart = hexPart[2:]
	}
	if hasMixedCase(hexPart) && "0x"+hexPart != addr.Hex() {
		return common.Address{}, fmt.Errorf("%w: %q has a bad checksum", faults.ErrInvalidIdentity, s)
	}

	return addr, nil
}

// Canonical returns the EIP-55 checksummed form of s, validating it first.
func Canonical(s string) (string, error) {
	addr, err := Parse(s)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// Equal reports whether two identifier strings name the same address.
// Comparison is on the raw bytes, so case differences do not matter.
// Invalid input on either side compares unequal.
func Equal(a, b string) bool {
	addrA, err := Parse(a)
	if err != nil {
		return false
	}
	addrB, err := Parse(b)
	if err != nil {
		return false
	}
	return addrA == addrB
}

func hasMixedCase(hexPart string) bool {
	return strings.ContainsAny(hexPart, "abcdef") && strings.ContainsAny(hexPart, "ABCDEF")
}
