package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method-level ABI of the two consumed contracts. Encoding is the ledger's
// concern; these fragments only pin down names, argument order and types.
const (
	accessRegistryABI = `[
		{"type":"function","name":"hasAccess","stateMutability":"view",
		 "inputs":[{"name":"patient","type":"address"},{"name":"doctor","type":"address"}],
		 "outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"grantPermanentAccess","stateMutability":"nonpayable",
		 "inputs":[{"name":"doctor","type":"address"}],"outputs":[]},
		{"type":"function","name":"grantTemporaryAccess","stateMutability":"nonpayable",
		 "inputs":[{"name":"doctor","type":"address"},{"name":"durationSeconds","type":"uint256"}],
		 "outputs":[]},
		{"type":"function","name":"revokeAccess","stateMutability":"nonpayable",
		 "inputs":[{"name":"doctor","type":"address"}],"outputs":[]},
		{"type":"function","name":"grantWithSignature","stateMutability":"nonpayable",
		 "inputs":[{"name":"patient","type":"address"},{"name":"doctor","type":"address"},
		           {"name":"permanent","type":"bool"},{"name":"expiry","type":"uint256"},
		           {"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
		 "outputs":[]},
		{"type":"function","name":"revokeWithSignature","stateMutability":"nonpayable",
		 "inputs":[{"name":"patient","type":"address"},{"name":"doctor","type":"address"},
		           {"name":"nonce","type":"uint256"},{"name":"signature","type":"bytes"}],
		 "outputs":[]}
	]`

	recordLedgerABI = `[
		{"type":"function","name":"addRecord","stateMutability":"nonpayable",
		 "inputs":[{"name":"patient","type":"address"},{"name":"cid","type":"string"},
		           {"name":"recordType","type":"string"}],
		 "outputs":[]},
		{"type":"function","name":"getAllRecords","stateMutability":"view",
		 "inputs":[{"name":"patient","type":"address"}],
		 "outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"cid","type":"string"},
			{"name":"recordType","type":"string"},
			{"name":"timestamp","type":"uint256"},
			{"name":"addedBy","type":"address"}]}]}
	]`
)

var (
	registryABI = mustABI(accessRegistryABI)
	ledgerABI   = mustABI(recordLedgerABI)
)

func mustABI(fragment string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(fragment))
	if err != nil {
		panic("chain: bad ABI fragment: " + err.Error())
	}
	return parsed
}
