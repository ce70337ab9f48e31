// Package shielding encrypts trusted operations to the worker's published RSA key.
// Plaintext is bounded to a single OAEP block; there is no chunking.
package shielding

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/salrashid123/trustedcall/common"
)

const KeyBits = 3072

type PublicKey struct {
	key *rsa.PublicKey
	der []byte
}

func NewPublicKey(key *rsa.PublicKey) (*PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal shielding key: %v", common.ErrEncoding, err)
	}
	return &PublicKey{key: key, der: der}, nil
}

func ParsePublicKey(der []byte) (*PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse shielding key: %v", common.ErrEncoding, err)
	}
	pk, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: shielding key is %T, not RSA", common.ErrEncoding, k)
	}
	return &PublicKey{key: pk, der: der}, nil
}

func (p *PublicKey) DER() []byte { return p.der }

func (p *PublicKey) PEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: p.der})
}

// Capacity is the largest plaintext a single OAEP(SHA-256) block can carry.
func (p *PublicKey) Capacity() int {
	return p.key.Size() - 2*sha256.Size - 2
}

// Fingerprint is the sha256 of the PKIX encoding.
func (p *PublicKey) Fingerprint() [32]byte {
	return sha256.Sum256(p.der)
}

func Encrypt(plaintext []byte, key *PublicKey) ([]byte, error) {
	if len(plaintext) > key.Capacity() {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", common.ErrCapacityExceeded, len(plaintext), key.Capacity())
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, key.key, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncoding, err)
	}
	return ct, nil
}

// KeyPair is the boundary-side half; its private key never leaves the worker.
type KeyPair struct {
	priv *rsa.PrivateKey
	pub  *PublicKey
}

func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate shielding key: %w", err)
	}
	return newKeyPair(priv)
}

func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	pub, err := NewPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

func (k *KeyPair) Public() *PublicKey { return k.pub }

func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, k.priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", common.ErrEncoding, err)
	}
	return pt, nil
}

func (k *KeyPair) MarshalPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func ParseKeyPairPEM(b []byte) (*KeyPair, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block in shielding key", common.ErrKeyAccess)
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrKeyAccess, err)
	}
	priv, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: shielding key is %T, not RSA", common.ErrKeyAccess, k)
	}
	return newKeyPair(priv)
}
