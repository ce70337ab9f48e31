package keystore

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/salrashid123/trustedcall/common"
)

const (
	ss58Prefix   = 42
	checksumSize = 2
)

func SS58Encode(a common.AccountID) string {
	payload := append([]byte{ss58Prefix}, a[:]...)
	return base58.Encode(append(payload, ss58Checksum(payload)...))
}

func SS58Decode(s string) (common.AccountID, error) {
	var a common.AccountID
	b, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("%w: %q is not base58: %v", common.ErrEncoding, s, err)
	}
	if len(b) != 1+common.IdentifierLength+checksumSize || b[0] >= 64 {
		return a, fmt.Errorf("%w: %q is not an ss58 account address", common.ErrEncoding, s)
	}
	payload := b[:1+common.IdentifierLength]
	if !bytes.Equal(ss58Checksum(payload), b[len(payload):]) {
		return a, fmt.Errorf("%w: ss58 checksum mismatch for %q", common.ErrEncoding, s)
	}
	copy(a[:], payload[1:])
	return a, nil
}

func ss58Checksum(payload []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write([]byte("SS58PRE"))
	h.Write(payload)
	return h.Sum(nil)[:checksumSize]
}
