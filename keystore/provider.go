package keystore

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/salrashid123/trustedcall/common"
)

// Provider hands out signing keys. It replaces any process-wide keystore state:
// components that sign receive a Provider (or a resolved Pair) explicitly.
type Provider interface {
	Generate() (*Pair, error)
	Pair(account common.AccountID) (*Pair, error)
	List() ([]common.AccountID, error)
}

type storedKey struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

// FileStore keeps one file per key under <root>/<base58 shard>.
type FileStore struct {
	dir string
}

func NewFileStore(root string, shard common.ShardIdentifier) *FileStore {
	return &FileStore{dir: filepath.Join(root, shard.String())}
}

// NewLedgerStore keeps ledger account keys directly under root.
func NewLedgerStore(root string) *FileStore {
	return &FileStore{dir: root}
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) Generate() (*Pair, error) {
	p, err := GeneratePair()
	if err != nil {
		return nil, err
	}
	raw, err := p.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	body, err := json.Marshal(storedKey{
		Address: SS58Encode(p.Public()),
		Secret:  hex.EncodeToString(raw),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create keystore: %v", common.ErrKeyAccess, err)
	}
	pub := p.Public()
	path := filepath.Join(s.dir, hex.EncodeToString(pub[:]))
	if err := os.WriteFile(path, body, 0600); err != nil {
		return nil, fmt.Errorf("%w: write key: %v", common.ErrKeyAccess, err)
	}
	glog.V(20).Infof("key %s written to %s", SS58Encode(pub), path)
	return p, nil
}

func (s *FileStore) Pair(account common.AccountID) (*Pair, error) {
	path := filepath.Join(s.dir, hex.EncodeToString(account[:]))
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no key for %s in %s", common.ErrKeyAccess, SS58Encode(account), s.dir)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	var sk storedKey
	if err := json.Unmarshal(body, &sk); err != nil {
		return nil, fmt.Errorf("%w: malformed key file %s: %v", common.ErrKeyAccess, path, err)
	}
	raw, err := hex.DecodeString(sk.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed key file %s: %v", common.ErrKeyAccess, path, err)
	}
	p, err := UnmarshalPair(raw)
	if err != nil {
		return nil, err
	}
	if p.Public() != account {
		return nil, fmt.Errorf("%w: key file %s does not match its name", common.ErrKeyAccess, path)
	}
	return p, nil
}

func (s *FileStore) List() ([]common.AccountID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	var out []common.AccountID
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, err := hex.DecodeString(e.Name())
		if err != nil || len(b) != common.IdentifierLength {
			continue
		}
		var a common.AccountID
		copy(a[:], b)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return hex.EncodeToString(out[i][:]) < hex.EncodeToString(out[j][:]) })
	return out, nil
}

// Resolve returns the pair for "//Name" development keys or an ss58 address held by p.
func Resolve(p Provider, account string) (*Pair, error) {
	glog.V(20).Infof("getting pair for %s", account)
	if strings.HasPrefix(account, "//") {
		return DevPair(account)
	}
	id, err := SS58Decode(account)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: no keystore configured for %s", common.ErrKeyAccess, account)
	}
	return p.Pair(id)
}

// AccountFromString resolves an account id without requiring its secret.
func AccountFromString(account string) (common.AccountID, error) {
	if strings.HasPrefix(account, "//") {
		p, err := DevPair(account)
		if err != nil {
			return common.AccountID{}, err
		}
		return p.Public(), nil
	}
	return SS58Decode(account)
}
