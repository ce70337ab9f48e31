package registry

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/ledger"
)

const (
	FnRegisterEnclave byte = iota
	FnUnregisterEnclave
	FnCallWorker
	FnConfirmCall
)

type RegisterEnclaveArgs struct {
	MrEnclave common.MrEnclave
	URL       string
}

type CallWorkerArgs struct {
	Request Request
}

type ConfirmCallArgs struct {
	Shard     common.ShardIdentifier
	CallHash  common.Hash
	StateHash []byte
}

func RegisterEnclave(module byte, mrenclave common.MrEnclave, url string) (ledger.Call, error) {
	args, err := common.Encode(func(enc scale.Encoder) error {
		if err := enc.Write(mrenclave[:]); err != nil {
			return err
		}
		return common.EncodeBytes(enc, []byte(url))
	})
	return ledger.Call{Module: module, Function: FnRegisterEnclave, Args: args}, err
}

func UnregisterEnclave(module byte) ledger.Call {
	return ledger.Call{Module: module, Function: FnUnregisterEnclave}
}

// CallWorker is the forward call entry point; the Request is its sole argument.
func CallWorker(module byte, req Request) (ledger.Call, error) {
	args, err := req.Encode()
	return ledger.Call{Module: module, Function: FnCallWorker, Args: args}, err
}

func ConfirmCall(module byte, shard common.ShardIdentifier, callHash common.Hash, stateHash []byte) (ledger.Call, error) {
	args, err := common.Encode(func(enc scale.Encoder) error {
		if err := enc.Write(shard[:]); err != nil {
			return err
		}
		if err := common.EncodeBytes(enc, callHash[:]); err != nil {
			return err
		}
		return common.EncodeBytes(enc, stateHash)
	})
	return ledger.Call{Module: module, Function: FnConfirmCall, Args: args}, err
}

// ParseCall decodes the arguments of a registry call into one of the *Args
// types (nil for unregister_enclave).
func ParseCall(c ledger.Call, module byte) (interface{}, error) {
	if c.Module != module {
		return nil, fmt.Errorf("%w: call for module %d, registry is %d", common.ErrEncoding, c.Module, module)
	}
	var out interface{}
	err := common.Decode(c.Args, func(dec scale.Decoder) error {
		switch c.Function {
		case FnRegisterEnclave:
			var a RegisterEnclaveArgs
			if err := common.DecodeFixed(dec, a.MrEnclave[:]); err != nil {
				return err
			}
			url, err := common.DecodeBytes(dec)
			a.URL = string(url)
			out = a
			return err
		case FnUnregisterEnclave:
			return nil
		case FnCallWorker:
			req, err := decodeRequest(dec)
			out = CallWorkerArgs{Request: req}
			return err
		case FnConfirmCall:
			var a ConfirmCallArgs
			if err := common.DecodeFixed(dec, a.Shard[:]); err != nil {
				return err
			}
			h, err := common.DecodeBytes(dec)
			if err != nil {
				return err
			}
			if len(h) != len(a.CallHash) {
				return fmt.Errorf("call hash length %d", len(h))
			}
			copy(a.CallHash[:], h)
			a.StateHash, err = common.DecodeBytes(dec)
			out = a
			return err
		default:
			return fmt.Errorf("unknown registry call %d", c.Function)
		}
	})
	return out, err
}
