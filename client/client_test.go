package main

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/dispatch"
)

func execute(args ...string) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestParseAmount(t *testing.T) {
	v, err := parseAmount("1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())

	for _, bad := range []string{"", "-1", "1e3", "340282366920938463463374607431768211456"} {
		_, err := parseAmount(bad)
		require.ErrorIs(t, err, common.ErrEncoding, bad)
	}
}

func TestParseNonce(t *testing.T) {
	n, err := parseNonce(dispatch.Value{})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), n)

	n, err = parseNonce(dispatch.Value{Value: big.NewInt(7), Found: true})
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)

	_, err = parseNonce(dispatch.Value{Value: big.NewInt(1 << 40), Found: true})
	require.ErrorIs(t, err, common.ErrValueDecode)
}

func TestLedgerAccounts(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, execute("new-account", "--keystore", dir))
	require.NoError(t, execute("new-account", "--keystore", dir))
	require.NoError(t, execute("list-accounts", "--keystore", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestTrustedAccountsAreScopedByShard(t *testing.T) {
	dir := t.TempDir()
	m := make([]byte, common.IdentifierLength)
	m[0] = 1
	shard := make([]byte, common.IdentifierLength)
	shard[0] = 2

	require.NoError(t, execute("trusted", "new-account", "--mrenclave", base58.Encode(m), "--trusted-keystore", dir))
	require.NoError(t, execute("trusted", "new-account", "--mrenclave", base58.Encode(m), "--shard", base58.Encode(shard), "--trusted-keystore", dir))

	for _, sub := range []string{base58.Encode(m), base58.Encode(shard)} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	}
}

func TestTrustedRequiresMrEnclave(t *testing.T) {
	err := execute("trusted", "list-accounts", "--trusted-keystore", t.TempDir())
	require.ErrorIs(t, err, common.ErrEncoding)
}

func TestBadArguments(t *testing.T) {
	require.Error(t, execute("balance"))
	require.Error(t, execute("trusted", "transfer", "a"))
}
