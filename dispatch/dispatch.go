// Package dispatch runs the client side of a trusted operation: encrypt,
// submit, wait for finality, then wait for the worker's confirmation.
package dispatch

import (
	"context"
	"fmt"
	"math/big"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/listener"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
	"github.com/salrashid123/trustedcall/workerapi"
)

// Worker is the query endpoint of the worker serving the target shard.
type Worker interface {
	GetShieldingKey(ctx context.Context) (*workerapi.ShieldingKey, error)
	GetState(ctx context.Context, getter *trustedop.TrustedGetterSigned, shard common.ShardIdentifier) ([]byte, error)
}

// Result of a confirmed call. Reported is whatever the first confirmation
// event carried; Match tells whether it equals the hash of our own call.
type Result struct {
	ID       string
	TxHash   common.Hash
	Reported common.Hash
	Reporter common.AccountID
	Expected common.Hash
	Match    bool
}

// Value is the decoded answer to a getter. Found is false when the worker
// holds no value.
type Value struct {
	Value *big.Int
	Found bool
}

type Dispatcher struct {
	client    ledger.Client
	worker    Worker
	submitter *extrinsic.Submitter
	module    byte
}

func New(client ledger.Client, worker Worker, registryModule byte) *Dispatcher {
	return &Dispatcher{
		client:    client,
		worker:    worker,
		submitter: extrinsic.NewSubmitter(client, registryModule),
		module:    registryModule,
	}
}

// Call ships tc to the worker through the ledger, signing the transaction
// with payer. It blocks until the transaction is finalized and a
// confirmation is observed, or ctx ends.
func (d *Dispatcher) Call(ctx context.Context, tc *trustedop.TrustedCallSigned, payer *keystore.Pair) (*Result, error) {
	res := &Result{ID: uuid.NewString()}
	glog.V(10).Infof("[%s] dispatching %s to shard %s", res.ID, tc.Call, tc.Shard)

	key, err := d.worker.GetShieldingKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("shielding key: %w", err)
	}
	if !slices.Contains(key.Shards, tc.Shard) {
		return nil, fmt.Errorf("%w: shard %s", common.ErrNotServed, tc.Shard)
	}

	plaintext, err := tc.Encode()
	if err != nil {
		return nil, err
	}
	ciphertext, err := shielding.Encrypt(plaintext, key.Key)
	if err != nil {
		return nil, err
	}
	res.Expected = listener.ExpectedHash(plaintext)

	l := listener.New(d.client, d.module)
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	defer l.Close()

	res.TxHash, err = d.submitter.Submit(ctx, registry.Request{Shard: tc.Shard, Ciphertext: ciphertext}, payer)
	if err != nil {
		return nil, err
	}
	glog.Infof("[%s] trusted call transaction %s finalized, waiting for confirmation", res.ID, res.TxHash)

	ev, err := l.WaitForConfirmation(ctx)
	if err != nil {
		return nil, fmt.Errorf("waiting for confirmation: %w", err)
	}
	res.Reported = ev.CallHash
	res.Reporter = ev.Account
	res.Match = res.Reported == res.Expected
	glog.Infof("[%s] call confirmed by %s", res.ID, ev.Account.Hex())
	glog.V(10).Infof("[%s] expected call hash %s", res.ID, res.Expected)
	glog.V(10).Infof("[%s] reported call hash %s", res.ID, res.Reported)
	if !res.Match {
		glog.Warningf("[%s] confirmation does not match this call; it may belong to another request", res.ID)
	}
	return res, nil
}

// Get asks the worker directly; getters never touch the ledger.
func (d *Dispatcher) Get(ctx context.Context, tg *trustedop.TrustedGetterSigned, shard common.ShardIdentifier) (Value, error) {
	glog.V(10).Infof("querying %s on shard %s", tg.Getter, shard)
	raw, err := d.worker.GetState(ctx, tg, shard)
	if err != nil {
		return Value{}, err
	}
	v, ok, err := workerapi.DecodeStateValue(raw)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		glog.V(2).Infof("worker holds no value for %s", tg.Getter)
	}
	return Value{Value: v, Found: ok}, nil
}

// Outcome holds the result of whichever half of the operation ran.
type Outcome struct {
	Call *Result
	Get  *Value
}

func (d *Dispatcher) Perform(ctx context.Context, op trustedop.TrustedOperation, shard common.ShardIdentifier, payer *keystore.Pair) (Outcome, error) {
	switch {
	case op.Call != nil:
		if op.Call.Shard != shard {
			return Outcome{}, fmt.Errorf("%w: call is bound to shard %s, not %s", common.ErrEncoding, op.Call.Shard, shard)
		}
		r, err := d.Call(ctx, op.Call, payer)
		return Outcome{Call: r}, err
	case op.Get != nil:
		v, err := d.Get(ctx, op.Get, shard)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Get: &v}, nil
	}
	return Outcome{}, fmt.Errorf("%w: empty trusted operation", common.ErrEncoding)
}
