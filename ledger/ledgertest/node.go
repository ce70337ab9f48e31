// Package ledgertest provides an in-memory ledger node for tests.
package ledgertest

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/ledger"
)

// Node implements ledger.Client. Every submitted transaction is finalized in
// its own block; the events returned by OnSubmit are published as that block's
// batch before SubmitAndWatch returns.
type Node struct {
	Genesis common.Hash
	Version ledger.RuntimeVersion
	// OnSubmit runs for every submitted transaction. A non-nil error rejects
	// the transaction.
	OnSubmit func(xt []byte) ([]ledger.EventRecord, error)

	mu        sync.Mutex
	storage   map[string][]byte
	submitted [][]byte
	block     uint64
	subs      map[*subscription]struct{}
}

var _ ledger.Client = (*Node)(nil)

func NewNode() *Node {
	n := &Node{
		Version: ledger.RuntimeVersion{SpecVersion: 1, TransactionVersion: 1},
		storage: make(map[string][]byte),
		subs:    make(map[*subscription]struct{}),
	}
	n.Genesis = blockHash(0)
	return n
}

func blockHash(n uint64) common.Hash {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], n)
	return ledger.Blake2_256(b[:])
}

func (n *Node) SetStorage(key, value []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if value == nil {
		delete(n.storage, string(key))
		return
	}
	n.storage[string(key)] = append([]byte(nil), value...)
}

func (n *Node) SetAccount(id common.AccountID, info ledger.AccountInfo) error {
	b, err := ledger.EncodeAccountInfo(info)
	if err != nil {
		return err
	}
	n.SetStorage(ledger.AccountKey(id), b)
	return nil
}

func (n *Node) GetStorage(ctx context.Context, key []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.storage[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (n *Node) GenesisHash(ctx context.Context) (common.Hash, error) {
	return n.Genesis, ctx.Err()
}

func (n *Node) RuntimeVersion(ctx context.Context) (ledger.RuntimeVersion, error) {
	return n.Version, ctx.Err()
}

func (n *Node) SubmitAndWatch(ctx context.Context, xt []byte) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	n.mu.Lock()
	n.submitted = append(n.submitted, append([]byte(nil), xt...))
	n.mu.Unlock()

	var records []ledger.EventRecord
	if n.OnSubmit != nil {
		var err error
		if records, err = n.OnSubmit(xt); err != nil {
			return common.Hash{}, fmt.Errorf("%w: %v", common.ErrSubmit, err)
		}
	}

	n.mu.Lock()
	n.block++
	h := blockHash(n.block)
	n.mu.Unlock()

	if len(records) > 0 {
		if err := n.EmitEvents(records...); err != nil {
			return h, err
		}
	}
	return h, nil
}

// Submitted returns a copy of every transaction submitted so far.
func (n *Node) Submitted() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([][]byte, len(n.submitted))
	for i, xt := range n.submitted {
		out[i] = append([]byte(nil), xt...)
	}
	return out
}

func (n *Node) EmitEvents(records ...ledger.EventRecord) error {
	b, err := ledger.EncodeEventRecords(records)
	if err != nil {
		return err
	}
	n.EmitBatch(b)
	return nil
}

// EmitBatch publishes a raw batch to every live subscription without blocking.
func (n *Node) EmitBatch(batch []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs {
		s.push(batch)
	}
}

// Fail terminates every live subscription with err.
func (n *Node) Fail(err error) {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[*subscription]struct{})
	n.mu.Unlock()
	for s := range subs {
		s.fail(err)
	}
}

func (n *Node) Subscribers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Node) SubscribeEvents(ctx context.Context) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{
		node:    n,
		batches: make(chan []byte),
		errs:    make(chan error, 1),
		signal:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()
	go s.run()
	return s, nil
}

type subscription struct {
	node    *Node
	batches chan []byte
	errs    chan error
	signal  chan struct{}
	stop    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	queue  [][]byte
	failed error
}

func (s *subscription) push(batch []byte) {
	s.mu.Lock()
	s.queue = append(s.queue, batch)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	s.failed = err
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscription) run() {
	defer close(s.batches)
	for {
		s.mu.Lock()
		var next []byte
		pending := len(s.queue) > 0
		if pending {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		failed := s.failed
		s.mu.Unlock()

		switch {
		case pending:
			select {
			case s.batches <- next:
			case <-s.stop:
				return
			}
		case failed != nil:
			s.errs <- failed
			return
		default:
			select {
			case <-s.signal:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *subscription) Batches() <-chan []byte { return s.batches }

func (s *subscription) Err() <-chan error { return s.errs }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.node.mu.Lock()
		delete(s.node.subs, s)
		s.node.mu.Unlock()
		close(s.stop)
	})
}
