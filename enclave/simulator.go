// Package enclave is a software stand-in for the sealed boundary. It holds the
// shielding and signing keys, executes trusted calls against in-memory shard
// state and answers trusted getters. It offers none of the isolation of real
// hardware and exists for development and tests.
package enclave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/golang/glog"
	"golang.org/x/exp/slices"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/extrinsic"
	"github.com/salrashid123/trustedcall/forwarder"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
	"github.com/salrashid123/trustedcall/registry"
	"github.com/salrashid123/trustedcall/shielding"
	"github.com/salrashid123/trustedcall/trustedop"
)

var (
	ErrBadSignature  = errors.New("invalid signature")
	ErrWrongEnclave  = errors.New("call is bound to another enclave")
	ErrStaleNonce    = errors.New("stale nonce")
	ErrUnauthorized  = errors.New("signer may not execute call")
	ErrInsufficient  = errors.New("insufficient balance")
	ErrUnknownShard  = errors.New("shard not served")
	ErrNotConfigured = errors.New("simulator not configured")
)

type account struct {
	free     *big.Int
	reserved *big.Int
	// next acceptable nonce
	nonce uint32
}

type shardState struct {
	accounts map[common.AccountID]*account
}

func (s *shardState) get(id common.AccountID) *account {
	a, ok := s.accounts[id]
	if !ok {
		a = &account{free: new(big.Int), reserved: new(big.Int)}
		s.accounts[id] = a
	}
	return a
}

// lookup never creates an account, so rejected calls leave the shard untouched.
func (s *shardState) lookup(id common.AccountID) (*account, bool) {
	a, ok := s.accounts[id]
	return a, ok
}

// hash commits to every account of the shard in a fixed order.
func (s *shardState) hash() common.Hash {
	ids := make([]common.AccountID, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	b, _ := common.Encode(func(enc scale.Encoder) error {
		for _, id := range ids {
			a := s.accounts[id]
			if err := enc.Write(id[:]); err != nil {
				return err
			}
			if err := common.EncodeU128(enc, a.free); err != nil {
				return err
			}
			if err := common.EncodeU128(enc, a.reserved); err != nil {
				return err
			}
			if err := common.EncodeU32(enc, a.nonce); err != nil {
				return err
			}
		}
		return nil
	})
	return ledger.Blake2_256(b)
}

type Config struct {
	Shielding *shielding.KeyPair
	Signer    *keystore.Pair
	MrEnclave common.MrEnclave
	// Root may set balances.
	Root           common.AccountID
	RegistryModule byte
	Shards         []common.ShardIdentifier
}

// Simulator implements forwarder.SecureExecutor and the worker API backend.
type Simulator struct {
	cfg Config

	mu     sync.Mutex
	shards map[common.ShardIdentifier]*shardState
}

var _ forwarder.SecureExecutor = (*Simulator)(nil)

func New(cfg Config) (*Simulator, error) {
	if cfg.Shielding == nil || cfg.Signer == nil {
		return nil, ErrNotConfigured
	}
	if len(cfg.Shards) == 0 {
		cfg.Shards = []common.ShardIdentifier{common.ShardIdentifier(cfg.MrEnclave)}
	}
	s := &Simulator{cfg: cfg, shards: make(map[common.ShardIdentifier]*shardState)}
	for _, sh := range cfg.Shards {
		s.shards[sh] = &shardState{accounts: make(map[common.AccountID]*account)}
	}
	return s, nil
}

func (s *Simulator) Account() common.AccountID { return s.cfg.Signer.Public() }

func (s *Simulator) ShieldingKey() *shielding.PublicKey { return s.cfg.Shielding.Public() }

func (s *Simulator) MrEnclave() common.MrEnclave { return s.cfg.MrEnclave }

func (s *Simulator) Shards() []common.ShardIdentifier {
	return slices.Clone(s.cfg.Shards)
}

// Execute decrypts and applies one trusted call, then returns the signed
// confirm_call transaction reporting the call hash and the new state hash.
func (s *Simulator) Execute(ctx context.Context, ec forwarder.ExecutionContext) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	plaintext, err := s.cfg.Shielding.Decrypt(ec.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBoundary, err)
	}
	tc, err := trustedop.DecodeTrustedCallSigned(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBoundary, err)
	}
	glog.V(20).Infof("executing %s from %s with nonce %d", tc.Call, tc.Signer.Hex(), tc.Nonce)

	stateHash, err := s.apply(tc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrBoundary, err)
	}

	call, err := registry.ConfirmCall(s.cfg.RegistryModule, tc.Shard, trustedop.CallHash(plaintext), stateHash[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBoundary, err)
	}
	xt, err := extrinsic.Compose(call, s.cfg.Signer, ec.Nonce, ec.GenesisHash, ec.RuntimeVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBoundary, err)
	}
	return xt, nil
}

func (s *Simulator) apply(tc *trustedop.TrustedCallSigned) (common.Hash, error) {
	if !tc.Verify() {
		return common.Hash{}, ErrBadSignature
	}
	if tc.MrEnclave != s.cfg.MrEnclave {
		return common.Hash{}, ErrWrongEnclave
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.shards[tc.Shard]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownShard, tc.Shard)
	}
	var next uint32
	if signer, ok := st.lookup(tc.Signer); ok {
		next = signer.nonce
	}
	if tc.Nonce < next {
		return common.Hash{}, fmt.Errorf("%w: got %d, expected at least %d", ErrStaleNonce, tc.Nonce, next)
	}
	if tc.Nonce == math.MaxUint32 {
		return common.Hash{}, fmt.Errorf("%w: nonce space of %s exhausted", ErrStaleNonce, tc.Signer.Hex())
	}

	switch c := tc.Call.(type) {
	case trustedop.BalanceTransfer:
		if c.From != tc.Signer {
			return common.Hash{}, ErrUnauthorized
		}
		free := new(big.Int)
		if from, ok := st.lookup(c.From); ok {
			free = from.free
		}
		if free.Cmp(c.Amount) < 0 {
			return common.Hash{}, fmt.Errorf("%w: %s has %s", ErrInsufficient, c.From.Hex(), free)
		}
		from, to := st.get(c.From), st.get(c.To)
		from.free.Sub(from.free, c.Amount)
		to.free.Add(to.free, c.Amount)
	case trustedop.BalanceSetBalance:
		if tc.Signer != s.cfg.Root {
			return common.Hash{}, ErrUnauthorized
		}
		who := st.get(c.Who)
		who.free = new(big.Int).Set(c.Free)
		who.reserved = new(big.Int).Set(c.Reserved)
	default:
		return common.Hash{}, fmt.Errorf("unsupported call %T", tc.Call)
	}
	st.get(tc.Signer).nonce = tc.Nonce + 1
	return st.hash(), nil
}

// QueryState answers a signed getter with an encoded Option<Vec<u8>> holding a
// little-endian integer. Unknown accounts answer None.
func (s *Simulator) QueryState(ctx context.Context, getter *trustedop.TrustedGetterSigned, shard common.ShardIdentifier) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !getter.Verify() {
		return nil, ErrBadSignature
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.shards[shard]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShard, shard)
	}
	a, ok := st.accounts[getter.Getter.Who]
	var value []byte
	if ok {
		switch g := getter.Getter; {
		case g.IsFreeBalance():
			value = common.LittleEndian(a.free, 16)
		case g.IsReservedBalance():
			value = common.LittleEndian(a.reserved, 16)
		case g.IsNonce():
			value = common.LittleEndian(big.NewInt(int64(a.nonce)), 4)
		}
	}
	glog.V(20).Infof("getter %s on shard %s: %x", getter.Getter, shard, value)
	return common.Encode(func(enc scale.Encoder) error {
		return common.EncodeOptionBytes(enc, value, ok)
	})
}
