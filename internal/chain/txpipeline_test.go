package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medblocks/medvault/pkg/faults"
)

type fakeNode struct {
	mu             sync.Mutex
	pending        uint64
	pendingQueries int
	sent           []*types.Transaction
	nextSendErr    error
}

func (f *fakeNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingQueries++
	return f.pending, nil
}

func (f *fakeNode) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_500_000_000), nil
}

func (f *fakeNode) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextSendErr != nil {
		err := f.nextSendErr
		f.nextSendErr = nil
		return err
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeNode) sentNonces() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonces := make([]uint64, 0, len(f.sent))
	for _, tx := range f.sent {
		nonces = append(nonces, tx.Nonce())
	}
	return nonces
}

func newTestPipeline(t *testing.T, node Node) *Pipeline {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := NewPipeline(node, key, big.NewInt(11155111), PipelineConfig{})
	require.NoError(t, err)
	return p
}

func TestSubmitAllocatesSequentialNonces(t *testing.T) {
	node := &fakeNode{pending: 7}
	p := newTestPipeline(t, node)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")

	for i := 0; i < 3; i++ {
		_, err := p.Submit(context.Background(), to, []byte{0x01})
		require.NoError(t, err)
	}

	assert.Equal(t, []uint64{7, 8, 9}, node.sentNonces())
	assert.Equal(t, 1, node.pendingQueries, "pending nonce is queried once, then tracked locally")
}

func TestSubmitConcurrentCallersNeverReuseANonce(t *testing.T) {
	const callers = 32

	node := &fakeNode{}
	p := newTestPipeline(t, node)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), to, []byte{0x02})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	nonces := node.sentNonces()
	require.Len(t, nonces, callers)
	seen := make(map[uint64]bool, callers)
	for _, n := range nonces {
		assert.False(t, seen[n], "nonce %d used twice", n)
		seen[n] = true
	}
}

func TestSubmitTerminalRejectionResyncsNonce(t *testing.T) {
	node := &fakeNode{pending: 0}
	p := newTestPipeline(t, node)
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	_, err := p.Submit(context.Background(), to, nil)
	require.NoError(t, err)

	node.mu.Lock()
	node.nextSendErr = errors.New("nonce too low: address already has nonce 5")
	node.pending = 5
	node.mu.Unlock()

	_, err = p.Submit(context.Background(), to, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrSubmission))
	assert.False(t, faults.Retryable(err), "ledger rejection is terminal")

	_, err = p.Submit(context.Background(), to, nil)
	require.NoError(t, err)

	nonces := node.sentNonces()
	assert.Equal(t, uint64(5), nonces[len(nonces)-1], "nonce resynced from node after rejection")
	assert.Equal(t, 2, node.pendingQueries)
}

func TestSubmitTransportFailureIsRetryable(t *testing.T) {
	node := &fakeNode{}
	node.nextSendErr = errors.New("dial tcp: connection refused")
	p := newTestPipeline(t, node)

	_, err := p.Submit(context.Background(), common.Address{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrSubmission))
	assert.True(t, errors.Is(err, faults.ErrChainConnection))
	assert.True(t, faults.Retryable(err))

	// A retry reuses the same nonce: the first outcome is unknown and a
	// same-nonce resend is the safe replacement.
	_, err = p.Submit(context.Background(), common.Address{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0}, node.sentNonces())
	assert.Equal(t, 1, node.pendingQueries)
}

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		msg       string
		retryable bool
	}{
		{"nonce too low", false},
		{"insufficient funds for gas * price + value", false},
		{"execution reverted: not record owner", false},
		{"replacement transaction underpriced", false},
		{"i/o timeout", true},
		{"context deadline exceeded", true},
		{"connection reset by peer", true},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			sub := classifySendError(errors.New(tt.msg))
			assert.Equal(t, tt.retryable, sub.Retryable)
			assert.Contains(t, sub.Reason, tt.msg)
		})
	}
}

func TestNewPipelineValidation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewPipeline(nil, key, big.NewInt(1), PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(&fakeNode{}, nil, big.NewInt(1), PipelineConfig{})
	require.Error(t, err)
	_, err = NewPipeline(&fakeNode{}, key, nil, PipelineConfig{})
	require.Error(t, err)
}
