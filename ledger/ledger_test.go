package ledger

import (
	"context"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salrashid123/trustedcall/common"
)

func TestStorageKeys(t *testing.T) {
	assert.Equal(t, "26aa394eea5630e07c48ae0c9558cef780d41e5e16056765bc8461851072c9d7", hex.EncodeToString(EventsKey()))
	assert.Equal(t, "26aa394eea5630e07c48ae0c9558cef7b99d880ec681799c0cf30e8886371da9", hex.EncodeToString(StorageKey("System", "Account")))

	var id common.AccountID
	id[0] = 7
	k := AccountKey(id)
	require.Len(t, k, 32+16+32)
	assert.Equal(t, id[:], k[len(k)-32:])
}

func TestEventRecordsRoundTrip(t *testing.T) {
	records := []EventRecord{
		{Phase: PhaseApplyExtrinsic, ExtrinsicIndex: 2, Module: 0, Variant: 0, Data: []byte{1, 2, 3}},
		{Phase: PhaseFinalization, Module: 9, Variant: 4, Data: make([]byte, 64), Topics: []common.Hash{{1}}},
		{Phase: PhaseInitialization, Module: 1, Variant: 1},
	}
	b, err := EncodeEventRecords(records)
	require.NoError(t, err)

	got, err := DecodeEventRecords(b)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(2), got[0].ExtrinsicIndex)
	assert.Equal(t, []byte{1, 2, 3}, got[0].Data)
	assert.Equal(t, byte(9), got[1].Module)
	assert.Equal(t, []common.Hash{{1}}, got[1].Topics)
	assert.Equal(t, PhaseInitialization, got[2].Phase)
}

func TestDecodeEventRecordsRejectsGarbage(t *testing.T) {
	_, err := DecodeEventRecords([]byte{0x04, 0x07})
	require.ErrorIs(t, err, common.ErrEncoding)

	b, err := EncodeEventRecords([]EventRecord{{Phase: PhaseFinalization}})
	require.NoError(t, err)
	_, err = DecodeEventRecords(append(b, 0))
	require.ErrorIs(t, err, common.ErrEncoding)
}

func TestCallEncoding(t *testing.T) {
	c := Call{Module: 4, Function: 2, Args: []byte{0xaa}}
	assert.Equal(t, []byte{4, 2, 0xaa}, c.Encode())

	got, err := DecodeCall(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, c, got)

	_, err = DecodeCall([]byte{1})
	require.ErrorIs(t, err, common.ErrEncoding)
}

type mapReader map[string][]byte

func (m mapReader) GetStorage(_ context.Context, key []byte) ([]byte, error) {
	return m[string(key)], nil
}

func TestAccountInfo(t *testing.T) {
	var id common.AccountID
	id[31] = 1

	info, err := Account(context.Background(), mapReader{}, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), info.Nonce)
	assert.Equal(t, int64(0), info.Free.Int64())

	b, err := EncodeAccountInfo(AccountInfo{Nonce: 5, Free: big.NewInt(1 << 40), Reserved: big.NewInt(3)})
	require.NoError(t, err)
	require.Len(t, b, 4+12+16+16+32)

	info, err = Account(context.Background(), mapReader{string(AccountKey(id)): b}, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), info.Nonce)
	assert.Equal(t, int64(1<<40), info.Free.Int64())
	assert.Equal(t, int64(3), info.Reserved.Int64())

	_, err = Account(context.Background(), mapReader{string(AccountKey(id)): b[:20]}, id)
	require.ErrorIs(t, err, common.ErrEncoding)
}
