// Package extrinsic composes signed ledger transactions and submits them,
// blocking until finality.
package extrinsic

import (
	"bytes"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/crypto/blake2b"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
	"github.com/salrashid123/trustedcall/ledger"
)

const (
	versionUnsigned byte = 0x04
	versionSigned   byte = 0x84

	addressID        byte = 0x00
	signatureEd25519 byte = 0x00
	eraImmortal      byte = 0x00

	maxUnhashedPayload = 256
	signatureLength    = 64
)

// Extrinsic is a decoded transaction.
type Extrinsic struct {
	Signed    bool
	Signer    common.AccountID
	Signature []byte
	Nonce     uint32
	Tip       uint64
	Call      ledger.Call
}

func encodeExtra(enc scale.Encoder, nonce uint32, tip uint64) error {
	if err := enc.PushByte(eraImmortal); err != nil {
		return err
	}
	if err := common.EncodeCompact(enc, uint64(nonce)); err != nil {
		return err
	}
	return common.EncodeCompact(enc, tip)
}

// signingPayload is call, extra, spec and transaction version, genesis hash
// and the era checkpoint (the genesis hash again for immortal transactions).
func signingPayload(call ledger.Call, nonce uint32, tip uint64, genesis common.Hash, version ledger.RuntimeVersion) ([]byte, error) {
	payload, err := common.Encode(func(enc scale.Encoder) error {
		if err := enc.Write(call.Encode()); err != nil {
			return err
		}
		if err := encodeExtra(enc, nonce, tip); err != nil {
			return err
		}
		if err := common.EncodeU32(enc, version.SpecVersion); err != nil {
			return err
		}
		if err := common.EncodeU32(enc, version.TransactionVersion); err != nil {
			return err
		}
		if err := enc.Write(genesis[:]); err != nil {
			return err
		}
		return enc.Write(genesis[:])
	})
	if err != nil {
		return nil, err
	}
	if len(payload) > maxUnhashedPayload {
		h := blake2b.Sum256(payload)
		return h[:], nil
	}
	return payload, nil
}

// Compose builds a signed, immortal, zero tip transaction of call.
func Compose(call ledger.Call, signer *keystore.Pair, nonce uint32, genesis common.Hash, version ledger.RuntimeVersion) ([]byte, error) {
	payload, err := signingPayload(call, nonce, 0, genesis, version)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	pub := signer.Public()
	body, err := common.Encode(func(enc scale.Encoder) error {
		if err := enc.Write([]byte{versionSigned, addressID}); err != nil {
			return err
		}
		if err := enc.Write(pub[:]); err != nil {
			return err
		}
		if err := enc.PushByte(signatureEd25519); err != nil {
			return err
		}
		if err := enc.Write(sig); err != nil {
			return err
		}
		if err := encodeExtra(enc, nonce, 0); err != nil {
			return err
		}
		return enc.Write(call.Encode())
	})
	if err != nil {
		return nil, err
	}
	return wrap(body)
}

func ComposeUnsigned(call ledger.Call) ([]byte, error) {
	return wrap(append([]byte{versionUnsigned}, call.Encode()...))
}

func wrap(body []byte) ([]byte, error) {
	return common.Encode(func(enc scale.Encoder) error {
		return common.EncodeBytes(enc, body)
	})
}

func Decode(xt []byte) (Extrinsic, error) {
	var x Extrinsic
	var body []byte
	if err := common.Decode(xt, func(dec scale.Decoder) error {
		var err error
		body, err = common.DecodeBytes(dec)
		return err
	}); err != nil {
		return x, fmt.Errorf("extrinsic: %w", err)
	}
	if len(body) == 0 {
		return x, fmt.Errorf("%w: empty extrinsic", common.ErrEncoding)
	}
	switch body[0] {
	case versionUnsigned:
		c, err := ledger.DecodeCall(body[1:])
		x.Call = c
		return x, err
	case versionSigned:
	default:
		return x, fmt.Errorf("%w: unsupported extrinsic version 0x%02x", common.ErrEncoding, body[0])
	}

	x.Signed = true
	// version, address kind, signer, signature kind, signature, era
	const header = 1 + 1 + 32 + 1 + signatureLength + 1
	if len(body) < header {
		return x, fmt.Errorf("%w: signed extrinsic too short", common.ErrEncoding)
	}
	if body[1] != addressID || body[34] != signatureEd25519 {
		return x, fmt.Errorf("%w: unsupported address or signature kind", common.ErrEncoding)
	}
	copy(x.Signer[:], body[2:34])
	x.Signature = append([]byte(nil), body[35:35+signatureLength]...)
	if body[header-1] != eraImmortal {
		return x, fmt.Errorf("%w: mortal era not supported", common.ErrEncoding)
	}

	r := bytes.NewReader(body[header:])
	dec := scale.NewDecoder(r)
	nonce, err := common.DecodeCompact(*dec)
	if err != nil || nonce > uint64(^uint32(0)) {
		return x, fmt.Errorf("%w: extrinsic nonce", common.ErrEncoding)
	}
	x.Nonce = uint32(nonce)
	if x.Tip, err = common.DecodeCompact(*dec); err != nil {
		return x, fmt.Errorf("%w: extrinsic tip: %v", common.ErrEncoding, err)
	}
	// the call runs to the end of the body
	callBytes := make([]byte, r.Len())
	if _, err := r.Read(callBytes); err != nil {
		return x, fmt.Errorf("%w: extrinsic call: %v", common.ErrEncoding, err)
	}
	x.Call, err = ledger.DecodeCall(callBytes)
	return x, err
}

// VerifySignature checks a signed extrinsic against the chain parameters it
// claims to have been signed for.
func (x Extrinsic) VerifySignature(genesis common.Hash, version ledger.RuntimeVersion) bool {
	if !x.Signed {
		return false
	}
	payload, err := signingPayload(x.Call, x.Nonce, x.Tip, genesis, version)
	if err != nil {
		return false
	}
	return keystore.Verify(x.Signer, payload, x.Signature)
}

// Hash is the transaction hash: blake2-256 of the encoded transaction.
func Hash(xt []byte) common.Hash {
	return ledger.Blake2_256(xt)
}
