package common

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
)

// maxVecLength bounds length prefixes read off the wire.
const maxVecLength = 1 << 24

// Encode runs fn against a fresh encoder and returns the produced bytes.
func Encode(fn func(enc scale.Encoder) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(*scale.NewEncoder(&buf)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return buf.Bytes(), nil
}

// Decode runs fn against a decoder over b and fails if bytes are left over.
func Decode(b []byte, fn func(dec scale.Decoder) error) error {
	r := bytes.NewReader(b)
	if err := fn(*scale.NewDecoder(r)); err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrEncoding, r.Len())
	}
	return nil
}

func EncodeCompact(enc scale.Encoder, v uint64) error {
	return enc.EncodeUintCompact(*new(big.Int).SetUint64(v))
}

func DecodeCompact(dec scale.Decoder) (uint64, error) {
	v, err := dec.DecodeUintCompact()
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("compact value %s overflows u64", v)
	}
	return v.Uint64(), nil
}

func EncodeBytes(enc scale.Encoder, b []byte) error {
	if err := EncodeCompact(enc, uint64(len(b))); err != nil {
		return err
	}
	return enc.Write(b)
}

func DecodeBytes(dec scale.Decoder) ([]byte, error) {
	n, err := DecodeCompact(dec)
	if err != nil {
		return nil, err
	}
	if n > maxVecLength {
		return nil, fmt.Errorf("byte vector length %d too large", n)
	}
	b := make([]byte, n)
	if err := dec.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func DecodeFixed(dec scale.Decoder, dst []byte) error {
	return dec.Read(dst)
}

// EncodeU128 writes v as 16 little-endian bytes.
func EncodeU128(enc scale.Encoder, v *big.Int) error {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return fmt.Errorf("value %s out of u128 range", v)
	}
	return enc.Write(LittleEndian(v, 16))
}

func DecodeU128(dec scale.Decoder) (*big.Int, error) {
	b := make([]byte, 16)
	if err := dec.Read(b); err != nil {
		return nil, err
	}
	return FromLittleEndian(b), nil
}

func EncodeU32(enc scale.Encoder, v uint32) error {
	return enc.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func DecodeU32(dec scale.Decoder) (uint32, error) {
	b := make([]byte, 4)
	if err := dec.Read(b); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func EncodeU64(enc scale.Encoder, v uint64) error {
	b := make([]byte, 8)
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	return enc.Write(b)
}

func DecodeU64(dec scale.Decoder) (uint64, error) {
	b := make([]byte, 8)
	if err := dec.Read(b); err != nil {
		return 0, err
	}
	var v uint64
	for i := range b {
		v |= uint64(b[i]) << (8 * i)
	}
	return v, nil
}

// DecodeOptionBytes decodes an Option<Vec<u8>>. A nil slice with ok=false means None.
func DecodeOptionBytes(dec scale.Decoder) (b []byte, ok bool, err error) {
	tag, err := dec.ReadOneByte()
	if err != nil {
		return nil, false, err
	}
	switch tag {
	case 0:
		return nil, false, nil
	case 1:
		b, err = DecodeBytes(dec)
		return b, err == nil, err
	default:
		return nil, false, fmt.Errorf("invalid option tag %d", tag)
	}
}

func EncodeOptionBytes(enc scale.Encoder, b []byte, ok bool) error {
	if !ok {
		return enc.PushByte(0)
	}
	if err := enc.PushByte(1); err != nil {
		return err
	}
	return EncodeBytes(enc, b)
}

func LittleEndian(v *big.Int, size int) []byte {
	b := v.FillBytes(make([]byte, size))
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

func FromLittleEndian(b []byte) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[len(b)-1-i] = b[i]
	}
	return new(big.Int).SetBytes(be)
}

func HexEncode(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return b, nil
}
