package extrinsic

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/ledger/ledgertest"
	"github.com/salrashid123/trustedcall/registry"
)

const testModule = 5

func alice(t *testing.T) *keystore.Pair {
	p, err := keystore.DevPair("//Alice")
	require.NoError(t, err)
	return p
}

func TestComposeDecode(t *testing.T) {
	pair := alice(t)
	genesis := common.Hash{0xaa}
	version := ledger.RuntimeVersion{SpecVersion: 3, TransactionVersion: 1}
	call := ledger.Call{Module: 1, Function: 2, Args: []byte{3, 4, 5}}

	xt, err := Compose(call, pair, 70000, genesis, version)
	require.NoError(t, err)

	x, err := Decode(xt)
	require.NoError(t, err)
	assert.True(t, x.Signed)
	assert.Equal(t, pair.Public(), x.Signer)
	assert.Equal(t, uint32(70000), x.Nonce)
	assert.Equal(t, uint64(0), x.Tip)
	assert.Equal(t, call, x.Call)
	assert.True(t, x.VerifySignature(genesis, version))
	assert.False(t, x.VerifySignature(common.Hash{0xbb}, version))
	assert.False(t, x.VerifySignature(genesis, ledger.RuntimeVersion{SpecVersion: 4, TransactionVersion: 1}))
}

func TestLargePayloadIsHashedBeforeSigning(t *testing.T) {
	pair := alice(t)
	call := ledger.Call{Module: 1, Function: 2, Args: bytes.Repeat([]byte{7}, 400)}
	xt, err := Compose(call, pair, 1, common.Hash{}, ledger.RuntimeVersion{})
	require.NoError(t, err)

	x, err := Decode(xt)
	require.NoError(t, err)
	assert.True(t, x.VerifySignature(common.Hash{}, ledger.RuntimeVersion{}))

	payload, err := signingPayload(call, 1, 0, common.Hash{}, ledger.RuntimeVersion{})
	require.NoError(t, err)
	assert.Len(t, payload, 32)
}

func TestUnsigned(t *testing.T) {
	call := ledger.Call{Module: 9, Function: 0}
	xt, err := ComposeUnsigned(call)
	require.NoError(t, err)
	x, err := Decode(xt)
	require.NoError(t, err)
	assert.False(t, x.Signed)
	assert.Equal(t, byte(9), x.Call.Module)
	assert.False(t, x.VerifySignature(common.Hash{}, ledger.RuntimeVersion{}))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	for _, xt := range [][]byte{
		{},
		{0x00},
		{0x04, 0x99},
		{0x08, 0x84, 0x00},
	} {
		_, err := Decode(xt)
		require.ErrorIs(t, err, common.ErrEncoding, "%x", xt)
	}
}

func TestSubmitUsesCurrentNonce(t *testing.T) {
	ctx := context.Background()
	pair := alice(t)
	node := ledgertest.NewNode()
	require.NoError(t, node.SetAccount(pair.Public(), ledger.AccountInfo{Nonce: 12, Free: big.NewInt(1), Reserved: new(big.Int)}))

	req := registry.Request{Shard: common.ShardIdentifier{1}, Ciphertext: []byte("secret")}
	hash, err := NewSubmitter(node, testModule).Submit(ctx, req, pair)
	require.NoError(t, err)

	submitted := node.Submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, Hash(submitted[0]), hash)

	x, err := Decode(submitted[0])
	require.NoError(t, err)
	assert.Equal(t, uint32(12), x.Nonce)
	assert.True(t, x.VerifySignature(node.Genesis, node.Version))

	args, err := registry.ParseCall(x.Call, testModule)
	require.NoError(t, err)
	assert.Equal(t, registry.CallWorkerArgs{Request: req}, args)
}

func TestSubmitRejected(t *testing.T) {
	node := ledgertest.NewNode()
	node.OnSubmit = func([]byte) ([]ledger.EventRecord, error) {
		return nil, errors.New("bad nonce")
	}
	_, err := NewSubmitter(node, testModule).SubmitRaw(context.Background(), []byte{0x04, 0x04, 0x00})
	require.ErrorIs(t, err, common.ErrSubmit)
}

func TestTransferCall(t *testing.T) {
	dest := common.AccountID{2}
	c, err := ledger.TransferCall(4, 0, dest, big.NewInt(1000))
	require.NoError(t, err)
	got, amount, err := ledger.ParseTransfer(c)
	require.NoError(t, err)
	assert.Equal(t, dest, got)
	assert.Equal(t, int64(1000), amount.Int64())
}
