package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/sirupsen/logrus"

	"github.com/medblocks/medvault/pkg/faults"
)

// Node is the subset of the ledger RPC surface the pipeline needs.
type Node interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// PipelineConfig tunes the gas policy. Zero values use the defaults the
// original deployment ran with (300k gas, 30/2 gwei caps).
type PipelineConfig struct {
	GasLimit   uint64
	FeeCapGwei int64
	TipCapGwei int64
	Logger     *logrus.Logger
}

// Pipeline builds, signs and submits ledger-mutating transactions for the
// single backend signing identity. Nonce allocation and submission form one
// critical section under mu: two concurrent writers sharing the signer must
// never observe the same nonce. The nonce is tracked locally after an
// initial seed from the node's pending count and resynced only after a
// terminal rejection.
type Pipeline struct {
	node     Node
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	gasLimit uint64
	feeCap   *big.Int
	tipCap   *big.Int
	log      *logrus.Logger

	mu         sync.Mutex
	nonce      uint64
	nonceKnown bool
}

// NewPipeline returns a Pipeline owning the given signing key.
func NewPipeline(node Node, key *ecdsa.PrivateKey, chainID *big.Int, cfg PipelineConfig) (*Pipeline, error) {
	if node == nil {
		return nil, fmt.Errorf("chain: pipeline needs a node")
	}
	if key == nil {
		return nil, fmt.Errorf("chain: pipeline needs a signing key")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain: pipeline needs a positive chain id")
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 300_000
	}
	if cfg.FeeCapGwei <= 0 {
		cfg.FeeCapGwei = 30
	}
	if cfg.TipCapGwei <= 0 {
		cfg.TipCapGwei = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Pipeline{
		node:     node,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  new(big.Int).Set(chainID),
		gasLimit: cfg.GasLimit,
		feeCap:   gwei(cfg.FeeCapGwei),
		tipCap:   gwei(cfg.TipCapGwei),
		log:      cfg.Logger,
	}, nil
}

// From returns the backend signing address.
func (p *Pipeline) From() common.Address { return p.from }

// Submit allocates the next nonce, signs a dynamic-fee call to the target
// contract and sends it. On success the local nonce advances; a terminal
// rejection drops the local seed so the next call resyncs from the node.
func (p *Pipeline) Submit(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.nonceKnown {
		pending, err := p.node.PendingNonceAt(ctx, p.from)
		if err != nil {
			return common.Hash{}, &faults.SubmissionError{
				Reason:    "query pending nonce: " + err.Error(),
				Retryable: true,
				Cause:     fmt.Errorf("%w: %v", faults.ErrChainConnection, err),
			}
		}
		p.nonce = pending
		p.nonceKnown = true
	}

	tip := p.tipCap
	if suggested, err := p.node.SuggestGasTipCap(ctx); err == nil && suggested != nil && suggested.Sign() > 0 {
		tip = suggested
	}
	feeCap := p.feeCap
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Add(tip, p.feeCap)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   p.chainID,
		Nonce:     p.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       p.gasLimit,
		To:        &to,
		Data:      calldata,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(p.chainID), p.key)
	if err != nil {
		return common.Hash{}, &faults.SubmissionError{Reason: "sign: " + err.Error(), Cause: err}
	}

	if err := p.node.SendTransaction(ctx, signed); err != nil {
		sub := classifySendError(err)
		if !sub.Retryable {
			// The node rejected the transaction; our view of the nonce may
			// be stale, so resync on the next submission.
			p.nonceKnown = false
		}
		return common.Hash{}, sub
	}

	p.log.WithFields(logrus.Fields{
		"to":    to.Hex(),
		"nonce": p.nonce,
		"tx":    signed.Hash().Hex(),
	}).Info("transaction submitted")

	p.nonce++
	return signed.Hash(), nil
}

// Rejection reasons the node reports deterministically. Anything else is
// treated as a transport failure whose outcome is unknown.
var terminalMarkers = []string{
	"nonce too low",
	"nonce too high",
	"already known",
	"replacement transaction underpriced",
	"transaction underpriced",
	"insufficient funds",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"execution reverted",
	"invalid sender",
	"max fee per gas less than block base fee",
}

func classifySendError(err error) *faults.SubmissionError {
	msg := err.Error()
	for _, marker := range terminalMarkers {
		if strings.Contains(msg, marker) {
			return &faults.SubmissionError{Reason: msg, Retryable: false, Cause: err}
		}
	}
	return &faults.SubmissionError{
		Reason:    msg,
		Retryable: true,
		Cause:     fmt.Errorf("%w: %v", faults.ErrChainConnection, err),
	}
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(params.GWei))
}
