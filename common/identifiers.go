package common

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

const IdentifierLength = 32

type ShardIdentifier [IdentifierLength]byte

type MrEnclave [IdentifierLength]byte

type AccountID [IdentifierLength]byte

type Hash [IdentifierLength]byte

func (s ShardIdentifier) String() string { return base58.Encode(s[:]) }

func (m MrEnclave) String() string { return base58.Encode(m[:]) }

func (a AccountID) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// ParseIdentifiers resolves the mrenclave/shard pair supplied by a caller.
// The shard defaults to the mrenclave when empty.
func ParseIdentifiers(mrenclave, shard string) (MrEnclave, ShardIdentifier, error) {
	var m MrEnclave
	var s ShardIdentifier
	if mrenclave == "" {
		return m, s, fmt.Errorf("%w: mrenclave must be provided", ErrEncoding)
	}
	mb, err := decodeIdentifier(mrenclave)
	if err != nil {
		return m, s, fmt.Errorf("mrenclave: %w", err)
	}
	copy(m[:], mb)

	if shard == "" {
		copy(s[:], mb)
		return m, s, nil
	}
	sb, err := decodeIdentifier(shard)
	if err != nil {
		return m, s, fmt.Errorf("shard: %w", err)
	}
	copy(s[:], sb)
	return m, s, nil
}

func ParseShard(v string) (ShardIdentifier, error) {
	var s ShardIdentifier
	b, err := decodeIdentifier(v)
	if err != nil {
		return s, err
	}
	copy(s[:], b)
	return s, nil
}

func decodeIdentifier(v string) ([]byte, error) {
	b, err := base58.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not base58: %v", ErrEncoding, v, err)
	}
	if len(b) != IdentifierLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrEncoding, IdentifierLength, len(b))
	}
	return b, nil
}
