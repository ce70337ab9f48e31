package forwarder

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/ledger/ledgertest"
	"github.com/salrashid123/trustedcall/registry"
)

const testModule = 2

type mockExecutor struct {
	pair *keystore.Pair
	fail error

	mu    sync.Mutex
	calls []ExecutionContext
}

func newMockExecutor(t *testing.T) *mockExecutor {
	p, err := keystore.DevPair("//Worker")
	require.NoError(t, err)
	return &mockExecutor{pair: p}
}

func (m *mockExecutor) Account() common.AccountID { return m.pair.Public() }

func (m *mockExecutor) Execute(_ context.Context, ec ExecutionContext) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ec)
	m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	call, err := registry.ConfirmCall(testModule, common.ShardIdentifier{}, ledger.Blake2_256(ec.Ciphertext), nil)
	if err != nil {
		return nil, err
	}
	return extrinsic.Compose(call, m.pair, ec.Nonce, ec.GenesisHash, ec.RuntimeVersion)
}

func (m *mockExecutor) executed() []ExecutionContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecutionContext(nil), m.calls...)
}

func TestForwardSubmitsBoundaryOutputVerbatim(t *testing.T) {
	node := ledgertest.NewNode()
	exec := newMockExecutor(t)
	require.NoError(t, node.SetAccount(exec.Account(), ledger.AccountInfo{Nonce: 4, Free: big.NewInt(0), Reserved: big.NewInt(0)}))

	f, err := New(node, exec, testModule, 0)
	require.NoError(t, err)
	hash, err := f.Forward(context.Background(), []byte("opaque"))
	require.NoError(t, err)

	calls := exec.executed()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte("opaque"), calls[0].Ciphertext)
	assert.Equal(t, uint32(4), calls[0].Nonce)
	assert.Equal(t, node.Genesis, calls[0].GenesisHash)
	assert.Equal(t, node.Version, calls[0].RuntimeVersion)

	submitted := node.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, extrinsic.Hash(submitted[0]), hash)
	x, err := extrinsic.Decode(submitted[0])
	require.NoError(t, err)
	assert.Equal(t, exec.Account(), x.Signer)
	assert.True(t, x.VerifySignature(node.Genesis, node.Version))
}

func TestForwardBoundaryFailure(t *testing.T) {
	node := ledgertest.NewNode()
	exec := newMockExecutor(t)
	exec.fail = errors.New("enclave returned status 0x2006")

	f, err := New(node, exec, testModule, 0)
	require.NoError(t, err)
	_, err = f.Forward(context.Background(), []byte("opaque"))
	require.ErrorIs(t, err, common.ErrBoundary)
	assert.Empty(t, node.Submitted())
}

func TestForwardSubmitFailure(t *testing.T) {
	node := ledgertest.NewNode()
	node.OnSubmit = func([]byte) ([]ledger.EventRecord, error) { return nil, errors.New("stale nonce") }
	f, err := New(node, newMockExecutor(t), testModule, 0)
	require.NoError(t, err)
	_, err = f.Forward(context.Background(), []byte("opaque"))
	require.ErrorIs(t, err, common.ErrSubmit)
}

func forwarded(t *testing.T, shard common.ShardIdentifier, ct string) ledger.EventRecord {
	rec, err := registry.Event{Kind: registry.Forwarded, Request: registry.Request{Shard: shard, Ciphertext: []byte(ct)}}.Record(testModule, ledger.PhaseApplyExtrinsic, 0)
	require.NoError(t, err)
	return rec
}

func TestWatchFiltersAndDeduplicates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	node := ledgertest.NewNode()
	exec := newMockExecutor(t)
	f, err := New(node, exec, testModule, 16)
	require.NoError(t, err)

	served := common.ShardIdentifier{1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx, []common.ShardIdentifier{served}) }()
	require.Eventually(t, func() bool { return node.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, node.EmitEvents(
		forwarded(t, served, "a"),
		forwarded(t, common.ShardIdentifier{2}, "b"),
		forwarded(t, served, "a"),
		ledger.EventRecord{Phase: ledger.PhaseFinalization, Module: testModule + 1},
		forwarded(t, served, "c"),
	))
	require.Eventually(t, func() bool { return len(node.Submitted()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	calls := exec.executed()
	require.Len(t, calls, 2)
	assert.Equal(t, []byte("a"), calls[0].Ciphertext)
	assert.Equal(t, []byte("c"), calls[1].Ciphertext)
	assert.Equal(t, 0, node.Subscribers())
}

func TestWatchKeepsGoingAfterBoundaryFailure(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	node := ledgertest.NewNode()
	exec := newMockExecutor(t)
	exec.fail = errors.New("boom")
	f, err := New(node, exec, testModule, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx, []common.ShardIdentifier{{}}) }()
	require.Eventually(t, func() bool { return node.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, node.EmitEvents(forwarded(t, common.ShardIdentifier{}, "x"), forwarded(t, common.ShardIdentifier{}, "y")))
	require.Eventually(t, func() bool { return len(exec.executed()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Empty(t, node.Submitted())
}

func TestWatchReturnsStreamError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	node := ledgertest.NewNode()
	f, err := New(node, newMockExecutor(t), testModule, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.Watch(context.Background(), nil) }()
	require.Eventually(t, func() bool { return node.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	node.Fail(common.ErrNetwork)
	require.ErrorIs(t, <-done, common.ErrNetwork)
}
