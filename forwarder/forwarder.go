// Package forwarder moves forwarded ciphertext across the sealed boundary and
// submits whatever transaction the boundary returns, without reading the
// plaintext.
package forwarder

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/exp/slices"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/listener"
	"github.com/salrashid123/trustedcall/registry"
)

const DefaultDedupSize = 200

// ExecutionContext is everything the boundary needs besides its own keys.
type ExecutionContext struct {
	Ciphertext     []byte
	GenesisHash    common.Hash
	Nonce          uint32
	RuntimeVersion ledger.RuntimeVersion
}

// SecureExecutor is the sealed boundary. Execute returns an encoded, signed
// transaction ready for submission; any error is a non-success status.
type SecureExecutor interface {
	Execute(ctx context.Context, ec ExecutionContext) ([]byte, error)
	// Account signs the transactions Execute returns.
	Account() common.AccountID
}

type Forwarder struct {
	client    ledger.Client
	submitter *extrinsic.Submitter
	executor  SecureExecutor
	module    byte
	seen      *lru.Cache[common.Hash, struct{}]
}

func New(client ledger.Client, executor SecureExecutor, registryModule byte, dedupSize int) (*Forwarder, error) {
	if dedupSize <= 0 {
		dedupSize = DefaultDedupSize
	}
	seen, err := lru.New[common.Hash, struct{}](dedupSize)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		client:    client,
		submitter: extrinsic.NewSubmitter(client, registryModule),
		executor:  executor,
		module:    registryModule,
		seen:      seen,
	}, nil
}

// Forward runs one ciphertext through the boundary and submits the result,
// blocking until finality. A boundary failure is logged and returned; nothing
// reaches the ledger in that case.
func (f *Forwarder) Forward(ctx context.Context, ciphertext []byte) (common.Hash, error) {
	account := f.executor.Account()
	info, err := ledger.Account(ctx, f.client, account)
	if err != nil {
		return common.Hash{}, fmt.Errorf("worker nonce: %w", err)
	}
	genesis, err := f.client.GenesisHash(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	version, err := f.client.RuntimeVersion(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	glog.V(10).Infof("forwarding %d bytes of ciphertext to the boundary with nonce %d", len(ciphertext), info.Nonce)

	xt, err := f.executor.Execute(ctx, ExecutionContext{
		Ciphertext:     ciphertext,
		GenesisHash:    genesis,
		Nonce:          info.Nonce,
		RuntimeVersion: version,
	})
	if err != nil {
		glog.Errorf("boundary failed to execute call: %v", err)
		if !errors.Is(err, common.ErrBoundary) {
			err = fmt.Errorf("%w: %w", common.ErrBoundary, err)
		}
		return common.Hash{}, err
	}

	hash, err := f.submitter.SubmitRaw(ctx, xt)
	if err != nil {
		return common.Hash{}, err
	}
	glog.Infof("boundary transaction %s finalized", hash)
	return hash, nil
}

// Watch forwards every call_worker request for one of shards, one at a time,
// until ctx ends or the event stream fails. Requests already seen are skipped.
func (f *Forwarder) Watch(ctx context.Context, shards []common.ShardIdentifier) error {
	l := listener.New(f.client, f.module)
	if err := l.Start(ctx); err != nil {
		return err
	}
	defer l.Close()
	glog.Infof("watching forwarded calls for %d shard(s)", len(shards))

	for {
		rec, err := l.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		ev, ok, err := registry.ParseEvent(rec, f.module)
		if !ok || ev.Kind != registry.Forwarded {
			continue
		}
		if err != nil {
			glog.Warningf("undecodable forwarded event: %v", err)
			continue
		}
		if !slices.Contains(shards, ev.Request.Shard) {
			glog.V(20).Infof("ignoring request for shard %s", ev.Request.Shard)
			continue
		}
		key := ledger.Blake2_256(ev.Request.Ciphertext)
		if found, _ := f.seen.ContainsOrAdd(key, struct{}{}); found {
			glog.V(20).Infof("ignoring duplicate request %s", key)
			continue
		}
		if _, err := f.Forward(ctx, ev.Request.Ciphertext); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			glog.Errorf("request %s for shard %s not forwarded: %v", key, ev.Request.Shard, err)
		}
	}
}
