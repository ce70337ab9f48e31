// Package listener follows the ledger's event stream and resolves waits for
// registry events.
package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/trustedop"
)

var errClosed = errors.New("listener closed")

// Listener owns one event subscription. A dedicated goroutine decodes every
// batch and queues its records in delivery order; Count, Next and
// WaitForConfirmation consume that queue from a single caller.
type Listener struct {
	client ledger.Client
	module byte

	q      *queue
	sub    ledger.Subscription
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func New(client ledger.Client, registryModule byte) *Listener {
	return &Listener{client: client, module: registryModule, q: newQueue()}
}

// Start opens the subscription. Records delivered from here on are observed,
// so start the listener before submitting whatever it should confirm.
func (l *Listener) Start(ctx context.Context) error {
	if l.done != nil {
		return errors.New("listener already started")
	}
	sub, err := l.client.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to events: %w", err)
	}
	pctx, cancel := context.WithCancel(context.Background())
	l.sub = sub
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.pump(pctx)
	glog.V(10).Infof("subscribed to ledger events")
	return nil
}

func (l *Listener) pump(ctx context.Context) {
	defer close(l.done)
	end := func(err error) {
		if ctx.Err() != nil {
			err = errClosed
		}
		l.q.close(err)
	}
	for {
		select {
		case batch, ok := <-l.sub.Batches():
			if !ok {
				end(fmt.Errorf("%w: event stream ended", common.ErrNetwork))
				return
			}
			recs, err := ledger.DecodeEventRecords(batch)
			if err != nil {
				glog.Errorf("skipping undecodable event batch: %v", err)
				continue
			}
			glog.V(40).Infof("event batch with %d records", len(recs))
			l.q.push(recs...)
		case err := <-l.sub.Err():
			end(err)
			return
		case <-ctx.Done():
			end(errClosed)
			return
		}
	}
}

// Close ends the subscription and waits for its goroutine.
func (l *Listener) Close() {
	l.once.Do(func() {
		if l.done == nil {
			return
		}
		l.cancel()
		l.sub.Unsubscribe()
		<-l.done
	})
}

// Next returns the next record of any module.
func (l *Listener) Next(ctx context.Context) (ledger.EventRecord, error) {
	return l.q.pop(ctx)
}

// Count counts registry records of every variant until threshold is reached.
// A threshold of zero counts until ctx ends.
func (l *Listener) Count(ctx context.Context, threshold uint64) (uint64, error) {
	var n uint64
	for threshold == 0 || n < threshold {
		rec, err := l.q.pop(ctx)
		if err != nil {
			return n, err
		}
		ev, ok, err := registry.ParseEvent(rec, l.module)
		if !ok {
			continue
		}
		n++
		if err != nil {
			glog.Warningf("registry event %d: %v", rec.Variant, err)
			continue
		}
		glog.Infof("[%d] %s", n, ev)
	}
	return n, nil
}

// WaitForConfirmation returns the first CallConfirmed event, whichever worker
// emitted it and whatever call it confirms.
func (l *Listener) WaitForConfirmation(ctx context.Context) (registry.Event, error) {
	for {
		rec, err := l.q.pop(ctx)
		if err != nil {
			return registry.Event{}, err
		}
		ev, ok, err := registry.ParseEvent(rec, l.module)
		if !ok {
			continue
		}
		if err != nil {
			glog.Warningf("registry event %d: %v", rec.Variant, err)
			continue
		}
		glog.V(20).Infof("registry event %s", ev)
		if ev.Kind == registry.CallConfirmed {
			return ev, nil
		}
	}
}

// ExpectedHash is the hash a worker should report for the encoded call it
// confirms. It is only compared for diagnostics.
func ExpectedHash(plaintext []byte) common.Hash {
	return trustedop.CallHash(plaintext)
}
