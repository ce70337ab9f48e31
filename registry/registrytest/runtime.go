// Package registrytest runs the ledger side of the registry and balances
// modules on top of a ledgertest.Node.
package registrytest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/ledger/ledgertest"
	"github.com/salrashid123/trustedcall/registry"
)

type Runtime struct {
	Node           *ledgertest.Node
	RegistryModule byte
	BalancesModule byte
	// TransferFunction is the balances transfer call index.
	TransferFunction byte

	mu sync.Mutex
}

// Install makes node execute submitted transactions against rt.
func Install(node *ledgertest.Node, registryModule, balancesModule, transferFunction byte) *Runtime {
	rt := &Runtime{Node: node, RegistryModule: registryModule, BalancesModule: balancesModule, TransferFunction: transferFunction}
	node.OnSubmit = rt.Apply
	return rt
}

// Apply validates and executes one transaction and returns its events.
func (rt *Runtime) Apply(xt []byte) ([]ledger.EventRecord, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	ctx := context.Background()

	x, err := extrinsic.Decode(xt)
	if err != nil {
		return nil, err
	}
	if !x.Signed {
		return nil, fmt.Errorf("unsigned transactions are not accepted")
	}
	if !x.VerifySignature(rt.Node.Genesis, rt.Node.Version) {
		return nil, fmt.Errorf("bad signature")
	}
	info, err := ledger.Account(ctx, rt.Node, x.Signer)
	if err != nil {
		return nil, err
	}
	if x.Nonce != info.Nonce {
		return nil, fmt.Errorf("invalid nonce %d, expected %d", x.Nonce, info.Nonce)
	}

	var events []registry.Event
	switch x.Call.Module {
	case rt.RegistryModule:
		if events, err = rt.registryCall(ctx, x.Signer, x.Call); err != nil {
			return nil, err
		}
	case rt.BalancesModule:
		if x.Call.Function != rt.TransferFunction {
			return nil, fmt.Errorf("unknown balances call %d", x.Call.Function)
		}
		if err := rt.transfer(ctx, x.Signer, x.Call); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown module %d", x.Call.Module)
	}

	info, err = ledger.Account(ctx, rt.Node, x.Signer)
	if err != nil {
		return nil, err
	}
	info.Nonce++
	if err := rt.Node.SetAccount(x.Signer, info); err != nil {
		return nil, err
	}

	records := make([]ledger.EventRecord, 0, len(events))
	for _, ev := range events {
		rec, err := ev.Record(rt.RegistryModule, ledger.PhaseApplyExtrinsic, 1)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (rt *Runtime) transfer(ctx context.Context, from common.AccountID, call ledger.Call) error {
	to, amount, err := ledger.ParseTransfer(call)
	if err != nil {
		return err
	}
	src, err := ledger.Account(ctx, rt.Node, from)
	if err != nil {
		return err
	}
	if src.Free.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	dst, err := ledger.Account(ctx, rt.Node, to)
	if err != nil {
		return err
	}
	src.Free.Sub(src.Free, amount)
	if err := rt.Node.SetAccount(from, src); err != nil {
		return err
	}
	if from == to {
		dst = src
		dst.Free.Add(dst.Free, amount)
	} else {
		dst.Free.Add(dst.Free, amount)
	}
	return rt.Node.SetAccount(to, dst)
}

func (rt *Runtime) registryCall(ctx context.Context, signer common.AccountID, call ledger.Call) ([]registry.Event, error) {
	args, err := registry.ParseCall(call, rt.RegistryModule)
	if err != nil {
		return nil, err
	}
	switch a := args.(type) {
	case registry.RegisterEnclaveArgs:
		return rt.register(ctx, signer, a)
	case registry.CallWorkerArgs:
		return []registry.Event{{Kind: registry.Forwarded, Request: a.Request}}, nil
	case registry.ConfirmCallArgs:
		if _, ok, err := registry.WorkerIndex(ctx, rt.Node, signer); err != nil || !ok {
			return nil, fmt.Errorf("confirm_call from unregistered worker %s", signer.Hex())
		}
		state, err := common.Encode(func(enc scale.Encoder) error {
			return common.EncodeBytes(enc, a.StateHash)
		})
		if err != nil {
			return nil, err
		}
		rt.Node.SetStorage(registry.LatestStateHashKey(), state)
		return []registry.Event{
			{Kind: registry.UpdatedStateHash, Account: signer, Shard: a.Shard, StateHash: a.StateHash},
			{Kind: registry.CallConfirmed, Account: signer, CallHash: a.CallHash},
		}, nil
	case nil:
		return rt.unregister(ctx, signer)
	}
	return nil, fmt.Errorf("unsupported registry call %d", call.Function)
}

func (rt *Runtime) register(ctx context.Context, signer common.AccountID, a registry.RegisterEnclaveArgs) ([]registry.Event, error) {
	idx, ok, err := registry.WorkerIndex(ctx, rt.Node, signer)
	if err != nil {
		return nil, err
	}
	if !ok {
		if idx, err = registry.WorkerCount(ctx, rt.Node); err != nil {
			return nil, err
		}
		if err := rt.setU64(registry.EnclaveCountKey(), idx+1); err != nil {
			return nil, err
		}
		if err := rt.setU64(registry.EnclaveIndexKey(signer), idx); err != nil {
			return nil, err
		}
	}
	b, err := registry.EncodeEnclave(registry.Enclave{PubKey: signer, MrEnclave: a.MrEnclave, URL: a.URL})
	if err != nil {
		return nil, err
	}
	rt.Node.SetStorage(registry.EnclaveRegistryKey(idx), b)
	return []registry.Event{{Kind: registry.AddedEnclave, Account: signer, URL: a.URL}}, nil
}

// unregister moves the last worker into the freed slot.
func (rt *Runtime) unregister(ctx context.Context, signer common.AccountID) ([]registry.Event, error) {
	idx, ok, err := registry.WorkerIndex(ctx, rt.Node, signer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, registry.ErrUnknownWorker
	}
	n, err := registry.WorkerCount(ctx, rt.Node)
	if err != nil {
		return nil, err
	}
	last := n - 1
	if idx != last {
		moved, err := registry.WorkerInfo(ctx, rt.Node, last)
		if err != nil {
			return nil, err
		}
		b, err := registry.EncodeEnclave(moved)
		if err != nil {
			return nil, err
		}
		rt.Node.SetStorage(registry.EnclaveRegistryKey(idx), b)
		if err := rt.setU64(registry.EnclaveIndexKey(moved.PubKey), idx); err != nil {
			return nil, err
		}
	}
	rt.Node.SetStorage(registry.EnclaveRegistryKey(last), nil)
	rt.Node.SetStorage(registry.EnclaveIndexKey(signer), nil)
	if err := rt.setU64(registry.EnclaveCountKey(), last); err != nil {
		return nil, err
	}
	return []registry.Event{{Kind: registry.RemovedEnclave, Account: signer}}, nil
}

func (rt *Runtime) setU64(key []byte, v uint64) error {
	b, err := common.Encode(func(enc scale.Encoder) error {
		return common.EncodeU64(enc, v)
	})
	if err != nil {
		return err
	}
	rt.Node.SetStorage(key, b)
	return nil
}

// Fund sets the free balance of account.
func (rt *Runtime) Fund(account common.AccountID, free *big.Int) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	info, err := ledger.Account(context.Background(), rt.Node, account)
	if err != nil {
		return err
	}
	info.Free = new(big.Int).Set(free)
	return rt.Node.SetAccount(account, info)
}
