package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/salrashid123/trustedcall/common"
)

const notificationBuffer = 1024

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcNotification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type rpcMessage struct {
	ID     *uint64          `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *rpcError        `json:"error"`
	Method string           `json:"method"`
	Params *rpcNotification `json:"params"`
}

type pendingCall struct {
	resp chan rpcMessage
	// non-nil for subscribe calls; registered by the read loop before the
	// response is handed back so no notification is lost
	notify chan json.RawMessage
}

// RPCClient speaks JSON-RPC 2.0 to a ledger node over one persistent websocket.
type RPCClient struct {
	url  string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingCall
	subs    map[string]chan json.RawMessage
	err     error
	done    chan struct{}
}

func Dial(ctx context.Context, url string) (*RPCClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", common.ErrNetwork, url, err)
	}
	c := &RPCClient{
		url:     url,
		conn:    conn,
		pending: make(map[uint64]*pendingCall),
		subs:    make(map[string]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	glog.V(10).Infof("connected to ledger node %s", url)
	return c, nil
}

func (c *RPCClient) Close() error {
	return c.conn.Close()
}

func subscriptionID(raw json.RawMessage) string {
	return strings.Trim(string(raw), `"`)
}

func (c *RPCClient) readLoop() {
	for {
		var msg rpcMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.shutdown(fmt.Errorf("%w: read from %s: %v", common.ErrNetwork, c.url, err))
			return
		}
		switch {
		case msg.ID != nil:
			c.mu.Lock()
			p, ok := c.pending[*msg.ID]
			delete(c.pending, *msg.ID)
			if ok && p.notify != nil && msg.Error == nil {
				var id json.RawMessage = msg.Result
				c.subs[subscriptionID(id)] = p.notify
			}
			c.mu.Unlock()
			if ok {
				p.resp <- msg
			}
		case msg.Params != nil:
			c.mu.Lock()
			ch, ok := c.subs[subscriptionID(msg.Params.Subscription)]
			c.mu.Unlock()
			if !ok {
				glog.V(40).Infof("dropping notification for unknown subscription %s", string(msg.Params.Subscription))
				continue
			}
			// a stalled subscriber must not block replies to other calls
			select {
			case ch <- msg.Params.Result:
			default:
				glog.Warningf("subscription %s is not draining, dropping notification", string(msg.Params.Subscription))
			}
		}
	}
}

func (c *RPCClient) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, p := range c.pending {
		close(p.resp)
		delete(c.pending, id)
	}
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	close(c.done)
}

func (c *RPCClient) send(method string, params []interface{}, notify chan json.RawMessage) (*pendingCall, uint64, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, 0, err
	}
	c.nextID++
	id := c.nextID
	p := &pendingCall{resp: make(chan rpcMessage, 1), notify: notify}
	c.pending[id] = p
	c.mu.Unlock()

	if params == nil {
		params = []interface{}{}
	}
	c.writeMu.Lock()
	err := c.conn.WriteJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, 0, fmt.Errorf("%w: write %s: %v", common.ErrNetwork, method, err)
	}
	return p, id, nil
}

func (c *RPCClient) wait(ctx context.Context, p *pendingCall, id uint64, method string) (rpcMessage, error) {
	select {
	case msg, ok := <-p.resp:
		if !ok {
			c.mu.Lock()
			err := c.err
			c.mu.Unlock()
			return msg, err
		}
		if msg.Error != nil {
			return msg, fmt.Errorf("%s: %w", method, msg.Error)
		}
		return msg, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return rpcMessage{}, ctx.Err()
	}
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	glog.V(40).Infof("rpc %s %v", method, params)
	p, id, err := c.send(method, params, nil)
	if err != nil {
		return err
	}
	msg, err := c.wait(ctx, p, id, method)
	if err != nil {
		var re *rpcError
		if errors.As(err, &re) {
			return fmt.Errorf("%w: %v", common.ErrNetwork, err)
		}
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Result, result); err != nil {
		return fmt.Errorf("%w: %s result: %v", common.ErrEncoding, method, err)
	}
	return nil
}

type rpcSubscription struct {
	c      *RPCClient
	id     string
	unsub  string
	notify chan json.RawMessage
	once   sync.Once
}

func (c *RPCClient) subscribe(ctx context.Context, method, unsub string, params []interface{}) (*rpcSubscription, error) {
	notify := make(chan json.RawMessage, notificationBuffer)
	p, id, err := c.send(method, params, notify)
	if err != nil {
		return nil, err
	}
	msg, err := c.wait(ctx, p, id, method)
	if err != nil {
		return nil, err
	}
	return &rpcSubscription{c: c, id: subscriptionID(msg.Result), unsub: unsub, notify: notify}, nil
}

func (s *rpcSubscription) close() {
	s.once.Do(func() {
		s.c.mu.Lock()
		_, live := s.c.subs[s.id]
		delete(s.c.subs, s.id)
		s.c.mu.Unlock()
		if !live {
			return
		}
		// fire and forget; the response is discarded
		if _, _, err := s.c.send(s.unsub, []interface{}{s.id}, nil); err != nil {
			glog.V(20).Infof("%s %s: %v", s.unsub, s.id, err)
		}
	})
}

func (c *RPCClient) GenesisHash(ctx context.Context) (common.Hash, error) {
	var h common.Hash
	var s string
	if err := c.call(ctx, "chain_getBlockHash", []interface{}{0}, &s); err != nil {
		return h, err
	}
	b, err := common.HexDecode(s)
	if err != nil || len(b) != len(h) {
		return h, fmt.Errorf("%w: genesis hash %q", common.ErrEncoding, s)
	}
	copy(h[:], b)
	return h, nil
}

func (c *RPCClient) RuntimeVersion(ctx context.Context) (RuntimeVersion, error) {
	var v RuntimeVersion
	err := c.call(ctx, "state_getRuntimeVersion", nil, &v)
	return v, err
}

func (c *RPCClient) GetStorage(ctx context.Context, key []byte) ([]byte, error) {
	var s *string
	if err := c.call(ctx, "state_getStorage", []interface{}{common.HexEncode(key)}, &s); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	return common.HexDecode(*s)
}

// SubmitAndWatch submits a hex-encoded transaction and blocks until the node
// reports it finalized or gives up on it. There is no timeout beyond ctx.
func (c *RPCClient) SubmitAndWatch(ctx context.Context, xt []byte) (common.Hash, error) {
	var block common.Hash
	sub, err := c.subscribe(ctx, "author_submitAndWatchExtrinsic", "author_unwatchExtrinsic", []interface{}{common.HexEncode(xt)})
	if err != nil {
		var re *rpcError
		if errors.As(err, &re) {
			return block, fmt.Errorf("%w: %v", common.ErrSubmit, err)
		}
		return block, err
	}
	defer sub.close()

	for {
		select {
		case raw, ok := <-sub.notify:
			if !ok {
				c.mu.Lock()
				err := c.err
				c.mu.Unlock()
				return block, err
			}
			status, hash, err := parseStatus(raw)
			if err != nil {
				return block, err
			}
			glog.V(20).Infof("transaction status: %s %s", status, hash)
			switch status {
			case "finalized":
				b, err := common.HexDecode(hash)
				if err != nil || len(b) != len(block) {
					return block, fmt.Errorf("%w: finalized block hash %q", common.ErrEncoding, hash)
				}
				copy(block[:], b)
				return block, nil
			case "dropped", "invalid", "usurped", "finalityTimeout":
				return block, fmt.Errorf("%w: transaction %s", common.ErrSubmit, status)
			}
		case <-ctx.Done():
			return block, ctx.Err()
		}
	}
}

// parseStatus handles both the bare string statuses ("ready") and the single-key
// object ones ({"finalized": "0x.."}).
func parseStatus(raw json.RawMessage) (string, string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, "", nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", "", fmt.Errorf("%w: transaction status %s", common.ErrEncoding, string(raw))
	}
	for k, v := range m {
		var h string
		_ = json.Unmarshal(v, &h)
		return k, h, nil
	}
	return "", "", fmt.Errorf("%w: empty transaction status", common.ErrEncoding)
}

type storageChangeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

type eventSubscription struct {
	sub     *rpcSubscription
	batches chan []byte
	errs    chan error
	stop    chan struct{}
	once    sync.Once
}

func (c *RPCClient) SubscribeEvents(ctx context.Context) (Subscription, error) {
	key := common.HexEncode(EventsKey())
	sub, err := c.subscribe(ctx, "state_subscribeStorage", "state_unsubscribeStorage", []interface{}{[]string{key}})
	if err != nil {
		return nil, err
	}
	es := &eventSubscription{
		sub:     sub,
		batches: make(chan []byte),
		errs:    make(chan error, 1),
		stop:    make(chan struct{}),
	}
	go es.run()
	return es, nil
}

func (es *eventSubscription) run() {
	defer close(es.batches)
	for {
		select {
		case raw, ok := <-es.sub.notify:
			if !ok {
				es.sub.c.mu.Lock()
				err := es.sub.c.err
				es.sub.c.mu.Unlock()
				if err == nil {
					err = fmt.Errorf("%w: event subscription closed", common.ErrNetwork)
				}
				es.errs <- err
				return
			}
			var cs storageChangeSet
			if err := json.Unmarshal(raw, &cs); err != nil {
				es.errs <- fmt.Errorf("%w: storage change set: %v", common.ErrEncoding, err)
				return
			}
			glog.V(40).Infof("event batch in block %s", cs.Block)
			for _, ch := range cs.Changes {
				if ch[1] == nil {
					continue
				}
				b, err := common.HexDecode(*ch[1])
				if err != nil {
					es.errs <- err
					return
				}
				select {
				case es.batches <- b:
				case <-es.stop:
					return
				}
			}
		case <-es.stop:
			return
		}
	}
}

func (es *eventSubscription) Batches() <-chan []byte { return es.batches }

func (es *eventSubscription) Err() <-chan error { return es.errs }

func (es *eventSubscription) Unsubscribe() {
	es.once.Do(func() {
		close(es.stop)
		es.sub.close()
	})
}
