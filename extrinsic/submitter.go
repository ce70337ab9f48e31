package extrinsic

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/registry"
)

// Submitter signs and submits transactions. Every submission blocks until the
// ledger reports finality or ctx ends; nothing is retried.
type Submitter struct {
	client ledger.Client
	module byte
}

func NewSubmitter(client ledger.Client, registryModule byte) *Submitter {
	return &Submitter{client: client, module: registryModule}
}

// Submit wraps req in the registry's call_worker entry point.
func (s *Submitter) Submit(ctx context.Context, req registry.Request, pair *keystore.Pair) (common.Hash, error) {
	call, err := registry.CallWorker(s.module, req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", common.ErrSubmit, err)
	}
	glog.V(10).Infof("submitting call_worker for shard %s (%d bytes ciphertext)", req.Shard, len(req.Ciphertext))
	return s.SubmitCall(ctx, call, pair)
}

// SubmitCall reads the signer's nonce immediately before composing. Two
// concurrent submissions from one signer can race on that nonce.
func (s *Submitter) SubmitCall(ctx context.Context, call ledger.Call, pair *keystore.Pair) (common.Hash, error) {
	account := pair.Public()
	info, err := ledger.Account(ctx, s.client, account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce for %s: %w", common.ErrSubmit, account.Hex(), err)
	}
	genesis, err := s.client.GenesisHash(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: genesis hash: %w", common.ErrSubmit, err)
	}
	version, err := s.client.RuntimeVersion(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: runtime version: %w", common.ErrSubmit, err)
	}
	glog.V(20).Infof("composing call %d/%d for %s with nonce %d", call.Module, call.Function, keystore.SS58Encode(account), info.Nonce)
	xt, err := Compose(call, pair, info.Nonce, genesis, version)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", common.ErrSubmit, err)
	}
	return s.SubmitRaw(ctx, xt)
}

// SubmitRaw submits an already encoded transaction verbatim and returns its
// hash once finalized.
func (s *Submitter) SubmitRaw(ctx context.Context, xt []byte) (common.Hash, error) {
	hash := Hash(xt)
	glog.V(40).Infof("extrinsic %s", common.HexEncode(xt))
	block, err := s.client.SubmitAndWatch(ctx, xt)
	if err != nil {
		glog.Errorf("transaction %s failed: %v", hash, err)
		return common.Hash{}, fmt.Errorf("%w: %s: %w", common.ErrSubmit, hash, err)
	}
	glog.V(10).Infof("transaction %s finalized in block %s", hash, block)
	return hash, nil
}
