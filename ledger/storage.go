package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/pierrec/xxHash/xxHash64"
	"golang.org/x/crypto/blake2b"

	"github.com/salrashid123/trustedcall/common"
)

func twox128(b []byte) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], xxHash64.Checksum(b, 0))
	binary.LittleEndian.PutUint64(out[8:], xxHash64.Checksum(b, 1))
	return out
}

func blake2128Concat(b []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(b)
	return append(h.Sum(nil), b...)
}

// StorageKey addresses a plain storage value.
func StorageKey(module, item string) []byte {
	return append(twox128([]byte(module)), twox128([]byte(item))...)
}

// StorageMapKey addresses one entry of a blake2_128_concat storage map.
func StorageMapKey(module, item string, key []byte) []byte {
	return append(StorageKey(module, item), blake2128Concat(key)...)
}

func EventsKey() []byte {
	return StorageKey("System", "Events")
}

func Blake2_256(b []byte) common.Hash {
	return common.Hash(blake2b.Sum256(b))
}

type AccountInfo struct {
	Nonce    uint32
	Free     *big.Int
	Reserved *big.Int
}

func AccountKey(id common.AccountID) []byte {
	return StorageMapKey("System", "Account", id[:])
}

// Account reads System.Account; an absent entry is a fresh account.
func Account(ctx context.Context, r StorageReader, id common.AccountID) (AccountInfo, error) {
	info := AccountInfo{Free: new(big.Int), Reserved: new(big.Int)}
	raw, err := r.GetStorage(ctx, AccountKey(id))
	if err != nil {
		return info, err
	}
	if raw == nil {
		return info, nil
	}
	err = common.Decode(raw, func(dec scale.Decoder) error {
		var err error
		if info.Nonce, err = common.DecodeU32(dec); err != nil {
			return err
		}
		// consumers, providers, sufficients
		skip := make([]byte, 12)
		if err := dec.Read(skip); err != nil {
			return err
		}
		if info.Free, err = common.DecodeU128(dec); err != nil {
			return err
		}
		if info.Reserved, err = common.DecodeU128(dec); err != nil {
			return err
		}
		// frozen, flags
		rest := make([]byte, 32)
		return dec.Read(rest)
	})
	if err != nil {
		return info, fmt.Errorf("account %s: %w", id.Hex(), err)
	}
	return info, nil
}

func EncodeAccountInfo(info AccountInfo) ([]byte, error) {
	return common.Encode(func(enc scale.Encoder) error {
		if err := common.EncodeU32(enc, info.Nonce); err != nil {
			return err
		}
		if err := enc.Write(make([]byte, 12)); err != nil {
			return err
		}
		if err := common.EncodeU128(enc, info.Free); err != nil {
			return err
		}
		if err := common.EncodeU128(enc, info.Reserved); err != nil {
			return err
		}
		return enc.Write(make([]byte, 32))
	})
}
