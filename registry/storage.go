package registry

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/golang/glog"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/ledger"
)

var ErrUnknownWorker = errors.New("worker not registered")

// Enclave is a registered worker.
type Enclave struct {
	PubKey    common.AccountID
	MrEnclave common.MrEnclave
	URL       string
}

func EncodeEnclave(e Enclave) ([]byte, error) {
	return common.Encode(func(enc scale.Encoder) error {
		if err := enc.Write(e.PubKey[:]); err != nil {
			return err
		}
		if err := enc.Write(e.MrEnclave[:]); err != nil {
			return err
		}
		return common.EncodeBytes(enc, []byte(e.URL))
	})
}

func decodeEnclave(b []byte) (Enclave, error) {
	var e Enclave
	err := common.Decode(b, func(dec scale.Decoder) error {
		if err := common.DecodeFixed(dec, e.PubKey[:]); err != nil {
			return err
		}
		if err := common.DecodeFixed(dec, e.MrEnclave[:]); err != nil {
			return err
		}
		url, err := common.DecodeBytes(dec)
		e.URL = string(url)
		return err
	})
	return e, err
}

func EnclaveCountKey() []byte {
	return ledger.StorageKey(ModuleName, "EnclaveCount")
}

func EnclaveRegistryKey(index uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], index)
	return ledger.StorageMapKey(ModuleName, "EnclaveRegistry", b[:])
}

func EnclaveIndexKey(account common.AccountID) []byte {
	return ledger.StorageMapKey(ModuleName, "EnclaveIndex", account[:])
}

func LatestStateHashKey() []byte {
	return ledger.StorageKey(ModuleName, "LatestIPFSHash")
}

func readU64(ctx context.Context, r ledger.StorageReader, key []byte) (uint64, bool, error) {
	raw, err := r.GetStorage(ctx, key)
	if err != nil || raw == nil {
		return 0, false, err
	}
	var v uint64
	err = common.Decode(raw, func(dec scale.Decoder) error {
		var err error
		v, err = common.DecodeU64(dec)
		return err
	})
	return v, true, err
}

// WorkerCount is the number of registered workers; no entry means zero.
func WorkerCount(ctx context.Context, r ledger.StorageReader) (uint64, error) {
	n, _, err := readU64(ctx, r, EnclaveCountKey())
	glog.V(20).Infof("registered workers: %d", n)
	return n, err
}

// WorkerInfo reads the worker at the zero based registry index.
func WorkerInfo(ctx context.Context, r ledger.StorageReader, index uint64) (Enclave, error) {
	raw, err := r.GetStorage(ctx, EnclaveRegistryKey(index))
	if err != nil {
		return Enclave{}, err
	}
	if raw == nil {
		return Enclave{}, fmt.Errorf("%w: index %d", ErrUnknownWorker, index)
	}
	e, err := decodeEnclave(raw)
	if err != nil {
		return e, fmt.Errorf("worker %d: %w", index, err)
	}
	glog.V(20).Infof("worker %d: %s at %s", index, e.PubKey.Hex(), e.URL)
	return e, nil
}

// ListWorkers reads every registered worker. The count comes off the ledger,
// so the slice grows per entry actually read.
func ListWorkers(ctx context.Context, r ledger.StorageReader) ([]Enclave, error) {
	n, err := WorkerCount(ctx, r)
	if err != nil {
		return nil, err
	}
	var out []Enclave
	for i := uint64(0); i < n; i++ {
		e, err := WorkerInfo(ctx, r, i)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func WorkerIndex(ctx context.Context, r ledger.StorageReader, account common.AccountID) (uint64, bool, error) {
	return readU64(ctx, r, EnclaveIndexKey(account))
}

// LatestStateHash returns the state hash of the most recent confirmation, if any.
func LatestStateHash(ctx context.Context, r ledger.StorageReader) ([]byte, bool, error) {
	raw, err := r.GetStorage(ctx, LatestStateHashKey())
	if err != nil || raw == nil {
		return nil, false, err
	}
	var h []byte
	err = common.Decode(raw, func(dec scale.Decoder) error {
		var err error
		h, err = common.DecodeBytes(dec)
		return err
	})
	return h, err == nil, err
}
