package registry

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/ledger"
)

type EventKind byte

const (
	AddedEnclave EventKind = iota
	RemovedEnclave
	UpdatedStateHash
	Forwarded
	CallConfirmed
)

func (k EventKind) String() string {
	switch k {
	case AddedEnclave:
		return "AddedEnclave"
	case RemovedEnclave:
		return "RemovedEnclave"
	case UpdatedStateHash:
		return "UpdatedStateHash"
	case Forwarded:
		return "Forwarded"
	case CallConfirmed:
		return "CallConfirmed"
	}
	return fmt.Sprintf("EventKind(%d)", byte(k))
}

// Event is a decoded registry event. Only the fields of Kind are set:
//
//	AddedEnclave      Account, URL
//	RemovedEnclave    Account
//	UpdatedStateHash  Account, Shard, StateHash
//	Forwarded         Request
//	CallConfirmed     Account, CallHash
type Event struct {
	Kind      EventKind
	Account   common.AccountID
	URL       string
	Shard     common.ShardIdentifier
	StateHash []byte
	CallHash  common.Hash
	Request   Request
}

func (e Event) String() string {
	switch e.Kind {
	case AddedEnclave:
		return fmt.Sprintf("AddedEnclave(%s, %s)", e.Account.Hex(), e.URL)
	case RemovedEnclave:
		return fmt.Sprintf("RemovedEnclave(%s)", e.Account.Hex())
	case UpdatedStateHash:
		return fmt.Sprintf("UpdatedStateHash(%s, %s, %x)", e.Account.Hex(), e.Shard, e.StateHash)
	case Forwarded:
		return fmt.Sprintf("Forwarded(shard %s, %d bytes)", e.Request.Shard, len(e.Request.Ciphertext))
	case CallConfirmed:
		return fmt.Sprintf("CallConfirmed(%s, %s)", e.Account.Hex(), e.CallHash)
	}
	return e.Kind.String()
}

// ParseEvent decodes rec if it belongs to the registry module. ok is false for
// records of any other module.
func ParseEvent(rec ledger.EventRecord, module byte) (ev Event, ok bool, err error) {
	if rec.Module != module {
		return ev, false, nil
	}
	ev.Kind = EventKind(rec.Variant)
	err = common.Decode(rec.Data, func(dec scale.Decoder) error {
		switch ev.Kind {
		case AddedEnclave:
			if err := common.DecodeFixed(dec, ev.Account[:]); err != nil {
				return err
			}
			url, err := common.DecodeBytes(dec)
			ev.URL = string(url)
			return err
		case RemovedEnclave:
			return common.DecodeFixed(dec, ev.Account[:])
		case UpdatedStateHash:
			if err := common.DecodeFixed(dec, ev.Account[:]); err != nil {
				return err
			}
			if err := common.DecodeFixed(dec, ev.Shard[:]); err != nil {
				return err
			}
			var err error
			ev.StateHash, err = common.DecodeBytes(dec)
			return err
		case Forwarded:
			var err error
			ev.Request, err = decodeRequest(dec)
			return err
		case CallConfirmed:
			if err := common.DecodeFixed(dec, ev.Account[:]); err != nil {
				return err
			}
			return common.DecodeFixed(dec, ev.CallHash[:])
		default:
			return fmt.Errorf("unknown registry event variant %d", rec.Variant)
		}
	})
	if err != nil {
		return ev, true, fmt.Errorf("registry event: %w", err)
	}
	return ev, true, nil
}

// Record encodes e as an event record of the registry module.
func (e Event) Record(module byte, phase byte, extrinsicIndex uint32) (ledger.EventRecord, error) {
	data, err := common.Encode(func(enc scale.Encoder) error {
		switch e.Kind {
		case AddedEnclave:
			if err := enc.Write(e.Account[:]); err != nil {
				return err
			}
			return common.EncodeBytes(enc, []byte(e.URL))
		case RemovedEnclave:
			return enc.Write(e.Account[:])
		case UpdatedStateHash:
			if err := enc.Write(e.Account[:]); err != nil {
				return err
			}
			if err := enc.Write(e.Shard[:]); err != nil {
				return err
			}
			return common.EncodeBytes(enc, e.StateHash)
		case Forwarded:
			return e.Request.encodeTo(enc)
		case CallConfirmed:
			if err := enc.Write(e.Account[:]); err != nil {
				return err
			}
			return enc.Write(e.CallHash[:])
		default:
			return fmt.Errorf("unknown registry event %d", e.Kind)
		}
	})
	if err != nil {
		return ledger.EventRecord{}, err
	}
	return ledger.EventRecord{
		Phase:          phase,
		ExtrinsicIndex: extrinsicIndex,
		Module:         module,
		Variant:        byte(e.Kind),
		Data:           data,
	}, nil
}
