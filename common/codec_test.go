package common

import (
	"math/big"
	"testing"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU128LittleEndian(t *testing.T) {
	b, err := Encode(func(enc scale.Encoder) error {
		return EncodeU128(enc, big.NewInt(1000))
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xe8, 0x03, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, b)

	var got *big.Int
	require.NoError(t, Decode(b, func(dec scale.Decoder) error {
		got, err = DecodeU128(dec)
		return err
	}))
	assert.Equal(t, int64(1000), got.Int64())
}

func TestU128RejectsOverflow(t *testing.T) {
	_, err := Encode(func(enc scale.Encoder) error {
		return EncodeU128(enc, new(big.Int).Lsh(big.NewInt(1), 128))
	})
	require.ErrorIs(t, err, ErrEncoding)
}

func TestOptionBytes(t *testing.T) {
	some, err := Encode(func(enc scale.Encoder) error {
		return EncodeOptionBytes(enc, []byte{1, 2, 3}, true)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 3 << 2, 1, 2, 3}, some)

	none, err := Encode(func(enc scale.Encoder) error {
		return EncodeOptionBytes(enc, nil, false)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, none)

	err = Decode([]byte{2}, func(dec scale.Decoder) error {
		_, _, err := DecodeOptionBytes(dec)
		return err
	})
	require.ErrorIs(t, err, ErrEncoding)
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	err := Decode([]byte{1, 0, 0, 0, 9}, func(dec scale.Decoder) error {
		_, err := DecodeU32(dec)
		return err
	})
	require.ErrorIs(t, err, ErrEncoding)
}
