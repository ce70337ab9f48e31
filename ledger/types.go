// Package ledger is the client side of the public ledger: storage reads, transaction
// submission with finality tracking, and the event stream.
package ledger

import (
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

type RuntimeVersion struct {
	SpecVersion        uint32 `json:"specVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

type StorageReader interface {
	// GetStorage returns nil, nil when the key holds no value.
	GetStorage(ctx context.Context, key []byte) ([]byte, error)
}

// Client is the set of ledger capabilities the pipeline depends on.
type Client interface {
	StorageReader
	GenesisHash(ctx context.Context) (common.Hash, error)
	RuntimeVersion(ctx context.Context) (RuntimeVersion, error)
	// SubmitAndWatch blocks until the transaction is finalized and returns the
	// hash of the finalizing block.
	SubmitAndWatch(ctx context.Context, xt []byte) (common.Hash, error)
	SubscribeEvents(ctx context.Context) (Subscription, error)
}

// Subscription delivers raw encoded event batches in arrival order.
type Subscription interface {
	Batches() <-chan []byte
	Err() <-chan error
	Unsubscribe()
}

// Call is an opaque dispatchable: module and function indices followed by the
// already encoded arguments.
type Call struct {
	Module   byte
	Function byte
	Args     []byte
}

func (c Call) Encode() []byte {
	out := make([]byte, 0, 2+len(c.Args))
	out = append(out, c.Module, c.Function)
	return append(out, c.Args...)
}

func DecodeCall(b []byte) (Call, error) {
	if len(b) < 2 {
		return Call{}, fmt.Errorf("%w: call too short", common.ErrEncoding)
	}
	return Call{Module: b[0], Function: b[1], Args: append([]byte(nil), b[2:]...)}, nil
}

const (
	PhaseApplyExtrinsic byte = iota
	PhaseFinalization
	PhaseInitialization
)

// EventRecord is one entry of an event batch. Event arguments are carried as a
// length-prefixed blob so records of modules we do not understand can be skipped.
type EventRecord struct {
	Phase          byte
	ExtrinsicIndex uint32
	Module         byte
	Variant        byte
	Data           []byte
	Topics         []common.Hash
}

func (r EventRecord) encodeTo(enc scale.Encoder) error {
	if err := enc.PushByte(r.Phase); err != nil {
		return err
	}
	if r.Phase == PhaseApplyExtrinsic {
		if err := common.EncodeU32(enc, r.ExtrinsicIndex); err != nil {
			return err
		}
	}
	if err := enc.Write([]byte{r.Module, r.Variant}); err != nil {
		return err
	}
	if err := common.EncodeBytes(enc, r.Data); err != nil {
		return err
	}
	if err := common.EncodeCompact(enc, uint64(len(r.Topics))); err != nil {
		return err
	}
	for _, t := range r.Topics {
		if err := enc.Write(t[:]); err != nil {
			return err
		}
	}
	return nil
}

func decodeEventRecord(dec scale.Decoder) (EventRecord, error) {
	var r EventRecord
	var err error
	if r.Phase, err = dec.ReadOneByte(); err != nil {
		return r, err
	}
	switch r.Phase {
	case PhaseApplyExtrinsic:
		if r.ExtrinsicIndex, err = common.DecodeU32(dec); err != nil {
			return r, err
		}
	case PhaseFinalization, PhaseInitialization:
	default:
		return r, fmt.Errorf("unknown event phase %d", r.Phase)
	}
	if r.Module, err = dec.ReadOneByte(); err != nil {
		return r, err
	}
	if r.Variant, err = dec.ReadOneByte(); err != nil {
		return r, err
	}
	if r.Data, err = common.DecodeBytes(dec); err != nil {
		return r, err
	}
	n, err := common.DecodeCompact(dec)
	if err != nil {
		return r, err
	}
	if n > 1024 {
		return r, fmt.Errorf("too many topics: %d", n)
	}
	for i := uint64(0); i < n; i++ {
		var t common.Hash
		if err := dec.Read(t[:]); err != nil {
			return r, err
		}
		r.Topics = append(r.Topics, t)
	}
	return r, nil
}

func EncodeEventRecords(records []EventRecord) ([]byte, error) {
	return common.Encode(func(enc scale.Encoder) error {
		if err := common.EncodeCompact(enc, uint64(len(records))); err != nil {
			return err
		}
		for _, r := range records {
			if err := r.encodeTo(enc); err != nil {
				return err
			}
		}
		return nil
	})
}

// DecodeEventRecords decodes a batch, preserving delivery order.
func DecodeEventRecords(batch []byte) ([]EventRecord, error) {
	var records []EventRecord
	err := common.Decode(batch, func(dec scale.Decoder) error {
		n, err := common.DecodeCompact(dec)
		if err != nil {
			return err
		}
		if n > uint64(len(batch)) {
			return fmt.Errorf("record count %d exceeds batch size", n)
		}
		records = make([]EventRecord, 0, n)
		for i := uint64(0); i < n; i++ {
			r, err := decodeEventRecord(dec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}
