// Package registry holds the wire entities of the ledger's worker registry
// module: the forwarded Request, its calls, its events and its storage.
package registry

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

// ModuleName is the storage prefix of the registry module.
const ModuleName = "SubstraTEERegistry"

// Request is the only payload the ledger stores for a trusted call.
type Request struct {
	Shard      common.ShardIdentifier
	Ciphertext []byte
}

func (r Request) encodeTo(enc scale.Encoder) error {
	if err := enc.Write(r.Shard[:]); err != nil {
		return err
	}
	return common.EncodeBytes(enc, r.Ciphertext)
}

func decodeRequest(dec scale.Decoder) (Request, error) {
	var r Request
	if err := common.DecodeFixed(dec, r.Shard[:]); err != nil {
		return r, err
	}
	var err error
	r.Ciphertext, err = common.DecodeBytes(dec)
	return r, err
}

// Encode is shard (32 bytes) followed by the compact length prefixed ciphertext.
func (r Request) Encode() ([]byte, error) {
	return common.Encode(r.encodeTo)
}

func DecodeRequest(b []byte) (Request, error) {
	var r Request
	err := common.Decode(b, func(dec scale.Decoder) error {
		var err error
		r, err = decodeRequest(dec)
		return err
	})
	if err != nil {
		return r, fmt.Errorf("request: %w", err)
	}
	return r, nil
}
