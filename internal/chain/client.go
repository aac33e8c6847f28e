// Package chain binds the medvault core to its two ledger contracts: the
// AccessRegistry holding grant state and the RecordLedger holding record
// metadata. Reads go out as eth_call; every write goes through the
// single-signer transaction pipeline.
package chain

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/pkg/faults"
)

// Reader is the read-only RPC surface the client needs. Reads are pure and
// safe to run in parallel.
type Reader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Submitter funnels contract writes through the serialized pipeline.
type Submitter interface {
	Submit(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error)
}

// LedgerRecord is one RecordLedger entry. Field names line up with the ABI
// tuple components so abi.ConvertType can map them.
type LedgerRecord struct {
	Cid        string
	RecordType string
	Timestamp  *big.Int
	AddedBy    common.Address
}

// Client is the contract binding.
type Client struct {
	reader   Reader
	pipeline Submitter
	registry common.Address
	ledger   common.Address
	log      *logrus.Logger
}

// NewClient binds reader and pipeline to the deployed contract addresses.
func NewClient(reader Reader, pipeline Submitter, registry, ledger common.Address, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		reader:   reader,
		pipeline: pipeline,
		registry: registry,
		ledger:   ledger,
		log:      logger,
	}
}

// Dial connects to the ledger node and confirms the chain id. Connectivity
// failures are faults.ErrChainConnection.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, *big.Int, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial %s: %v", faults.ErrChainConnection, rpcURL, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, nil, fmt.Errorf("%w: query chain id: %v", faults.ErrChainConnection, err)
	}
	return eth, chainID, nil
}

// HasAccess reports the registry's current grant decision for the pair.
func (c *Client) HasAccess(ctx context.Context, patient, doctor common.Address) (bool, error) {
	out, err := c.call(ctx, c.registry, registryABI, "hasAccess", patient, doctor)
	if err != nil {
		return false, err
	}
	granted, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: hasAccess returned unexpected type %T", out[0])
	}
	return granted, nil
}

// Records returns every ledger entry registered for the patient.
func (c *Client) Records(ctx context.Context, patient common.Address) ([]LedgerRecord, error) {
	out, err := c.call(ctx, c.ledger, ledgerABI, "getAllRecords", patient)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(out[0], new([]LedgerRecord)).(*[]LedgerRecord)
	return records, nil
}

// GrantPermanent submits grantPermanentAccess(doctor).
func (c *Client) GrantPermanent(ctx context.Context, doctor common.Address) (common.Hash, error) {
	return c.submit(ctx, c.registry, registryABI, "grantPermanentAccess", doctor)
}

// GrantTemporary submits grantTemporaryAccess(doctor, durationSeconds).
func (c *Client) GrantTemporary(ctx context.Context, doctor common.Address, durationSeconds *big.Int) (common.Hash, error) {
	return c.submit(ctx, c.registry, registryABI, "grantTemporaryAccess", doctor, durationSeconds)
}

// Revoke submits revokeAccess(doctor).
func (c *Client) Revoke(ctx context.Context, doctor common.Address) (common.Hash, error) {
	return c.submit(ctx, c.registry, registryABI, "revokeAccess", doctor)
}

// GrantWithSignature relays a signature-authorized grant. The registry, not
// this client, verifies the signature and nonce.
func (c *Client) GrantWithSignature(ctx context.Context, patient, doctor common.Address, permanent bool, expiry, nonce *big.Int, signature []byte) (common.Hash, error) {
	return c.submit(ctx, c.registry, registryABI, "grantWithSignature",
		patient, doctor, permanent, expiry, nonce, signature)
}

// RevokeWithSignature relays a signature-authorized revocation.
func (c *Client) RevokeWithSignature(ctx context.Context, patient, doctor common.Address, nonce *big.Int, signature []byte) (common.Hash, error) {
	return c.submit(ctx, c.registry, registryABI, "revokeWithSignature",
		patient, doctor, nonce, signature)
}

// AddRecord submits addRecord(patient, cid, recordType).
func (c *Client) AddRecord(ctx context.Context, patient common.Address, cid, recordType string) (common.Hash, error) {
	return c.submit(ctx, c.ledger, ledgerABI, "addRecord", patient, cid, recordType)
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	res, err := c.reader.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", faults.ErrChainConnection, method, err)
	}
	out, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("chain: %s returned no values", method)
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) (common.Hash, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	hash, err := c.pipeline.Submit(ctx, to, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}
	return hash, nil
}
