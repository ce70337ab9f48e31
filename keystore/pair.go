// Package keystore holds the ed25519 signing keys used for trusted operations and
// ledger transactions, and resolves account strings to keys through an explicit
// Provider.
package keystore

import (
	"fmt"
	"strings"

	"go.dedis.ch/kyber/v4/group/edwards25519"
	"go.dedis.ch/kyber/v4/sign/eddsa"

	"github.com/salrashid123/trustedcall/common"
)

var suite = edwards25519.NewBlakeSHA256Ed25519()

const pairLength = 64

type Pair struct {
	key    *eddsa.EdDSA
	public common.AccountID
}

func newPair(key *eddsa.EdDSA) (*Pair, error) {
	pb, err := key.Public.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %v", common.ErrKeyAccess, err)
	}
	p := &Pair{key: key}
	copy(p.public[:], pb)
	return p, nil
}

func GeneratePair() (*Pair, error) {
	return newPair(eddsa.NewEdDSA(suite.RandomStream()))
}

// DevPair derives a well-known development key from a "//Name" URI.
func DevPair(uri string) (*Pair, error) {
	if !strings.HasPrefix(uri, "//") || len(uri) < 3 {
		return nil, fmt.Errorf("%w: %q is not a development key uri", common.ErrKeyAccess, uri)
	}
	return newPair(eddsa.NewEdDSA(suite.XOF([]byte(uri))))
}

func UnmarshalPair(b []byte) (*Pair, error) {
	if len(b) != pairLength {
		return nil, fmt.Errorf("%w: expected %d key bytes, got %d", common.ErrKeyAccess, pairLength, len(b))
	}
	key := &eddsa.EdDSA{}
	if err := key.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	return newPair(key)
}

func (p *Pair) MarshalBinary() ([]byte, error) {
	return p.key.MarshalBinary()
}

func (p *Pair) Public() common.AccountID {
	return p.public
}

func (p *Pair) Sign(msg []byte) ([]byte, error) {
	sig, err := p.key.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: sign: %v", common.ErrKeyAccess, err)
	}
	return sig, nil
}

func Verify(pub common.AccountID, msg, sig []byte) bool {
	pt := suite.Point()
	if err := pt.UnmarshalBinary(pub[:]); err != nil {
		return false
	}
	return eddsa.Verify(pt, msg, sig) == nil
}
