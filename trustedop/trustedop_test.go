package trustedop

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
)

func fixture(t *testing.T) (*keystore.Pair, common.AccountID, common.MrEnclave, common.ShardIdentifier) {
	t.Helper()
	alice, err := keystore.DevPair("//Alice")
	require.NoError(t, err)
	bob, err := keystore.DevPair("//Bob")
	require.NoError(t, err)
	var m common.MrEnclave
	var s common.ShardIdentifier
	for i := range m {
		m[i] = byte(i)
		s[i] = byte(255 - i)
	}
	return alice, bob.Public(), m, s
}

func TestSignedCallVerifies(t *testing.T) {
	alice, bob, m, s := fixture(t)
	call := BalanceTransfer{From: alice.Public(), To: bob, Amount: big.NewInt(1000)}

	tc, err := Sign(call, alice, 3, m, s)
	require.NoError(t, err)
	assert.True(t, tc.Verify())

	// another key claiming to be the signer must not verify
	impostor := *tc
	impostor.Signer = bob
	assert.False(t, impostor.Verify())
}

func TestSignIsDeterministic(t *testing.T) {
	alice, bob, m, s := fixture(t)
	call := BalanceTransfer{From: alice.Public(), To: bob, Amount: big.NewInt(1000)}

	a, err := Sign(call, alice, 1, m, s)
	require.NoError(t, err)
	b, err := Sign(call, alice, 1, m, s)
	require.NoError(t, err)

	ea, err := a.Encode()
	require.NoError(t, err)
	eb, err := b.Encode()
	require.NoError(t, err)
	assert.Equal(t, ea, eb)
}

func TestSingleBitFlipInvalidatesSignature(t *testing.T) {
	alice, bob, m, s := fixture(t)
	tc, err := Sign(BalanceTransfer{From: alice.Public(), To: bob, Amount: big.NewInt(1000)}, alice, 7, m, s)
	require.NoError(t, err)
	enc, err := tc.Encode()
	require.NoError(t, err)

	// transfer call: tag(1) from(32) to(32) amount(16) | nonce(4) | signer(32) | mrenclave(32) | shard(32) | sig(64)
	offsets := map[string]int{
		"call recipient": 40,
		"call amount":    70,
		"nonce":          82,
		"mrenclave":      120,
		"shard":          160,
	}
	for field, off := range offsets {
		t.Run(field, func(t *testing.T) {
			mutated := append([]byte(nil), enc...)
			mutated[off] ^= 0x01
			decoded, err := DecodeTrustedCallSigned(mutated)
			require.NoError(t, err)
			assert.False(t, decoded.Verify())
		})
	}

	decoded, err := DecodeTrustedCallSigned(enc)
	require.NoError(t, err)
	assert.True(t, decoded.Verify())
	assert.Equal(t, tc.Nonce, decoded.Nonce)
	assert.Equal(t, tc.Shard, decoded.Shard)
}

func TestSetBalanceSignedByRoot(t *testing.T) {
	_, bob, m, s := fixture(t)
	root, err := keystore.DevPair("//AliceIncognito")
	require.NoError(t, err)

	call := BalanceSetBalance{Who: bob, Free: big.NewInt(500), Reserved: big.NewInt(500)}
	tc, err := Sign(call, root, 0, m, s)
	require.NoError(t, err)
	assert.True(t, tc.Verify())
	assert.Equal(t, bob, tc.Call.Account())
	assert.Equal(t, root.Public(), tc.Signer)
}

func TestGetterSigning(t *testing.T) {
	alice, bob, _, _ := fixture(t)

	tg, err := SignGetter(FreeBalance(alice.Public()), alice)
	require.NoError(t, err)
	assert.True(t, tg.Verify())

	enc, err := tg.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTrustedGetterSigned(enc)
	require.NoError(t, err)
	assert.True(t, decoded.Verify())
	assert.True(t, decoded.Getter.IsFreeBalance())

	_, err = SignGetter(FreeBalance(bob), alice)
	require.ErrorIs(t, err, common.ErrKeyAccess)
}

func TestTrustedOperationEncoding(t *testing.T) {
	alice, bob, m, s := fixture(t)
	tc, err := Sign(BalanceTransfer{From: alice.Public(), To: bob, Amount: big.NewInt(1)}, alice, 0, m, s)
	require.NoError(t, err)

	enc, err := CallOperation(tc).Encode()
	require.NoError(t, err)
	assert.Equal(t, byte(0), enc[0])

	op, err := DecodeTrustedOperation(enc)
	require.NoError(t, err)
	require.NotNil(t, op.Call)
	assert.Nil(t, op.Get)
	assert.True(t, op.Call.Verify())

	_, err = TrustedOperation{}.Encode()
	require.ErrorIs(t, err, common.ErrEncoding)

	_, err = DecodeTrustedOperation([]byte{9})
	require.ErrorIs(t, err, common.ErrEncoding)
}
