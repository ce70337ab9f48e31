package trustedop

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"golang.org/x/crypto/blake2s"

	"github.com/salrashid123/trustedcall/common"
	"github.com/salrashid123/trustedcall/keystore"
)

const SignatureLength = 64

// TrustedCallSigned binds a call to a nonce, the signer, the target enclave
// measurement and the shard. The signature covers all of them jointly.
type TrustedCallSigned struct {
	Call      TrustedCall
	Nonce     uint32
	Signer    common.AccountID
	MrEnclave common.MrEnclave
	Shard     common.ShardIdentifier
	Signature []byte
}

func Sign(call TrustedCall, pair *keystore.Pair, nonce uint32, mrenclave common.MrEnclave, shard common.ShardIdentifier) (*TrustedCallSigned, error) {
	tc := &TrustedCallSigned{
		Call:      call,
		Nonce:     nonce,
		Signer:    pair.Public(),
		MrEnclave: mrenclave,
		Shard:     shard,
	}
	payload, err := tc.Payload()
	if err != nil {
		return nil, err
	}
	if tc.Signature, err = pair.Sign(payload); err != nil {
		return nil, err
	}
	return tc, nil
}

// Payload is the canonical encoding the signature is computed over.
func (tc *TrustedCallSigned) Payload() ([]byte, error) {
	return common.Encode(tc.encodePayload)
}

func (tc *TrustedCallSigned) encodePayload(enc scale.Encoder) error {
	if tc.Call == nil {
		return fmt.Errorf("missing call")
	}
	if err := tc.Call.encodeTo(enc); err != nil {
		return err
	}
	if err := common.EncodeU32(enc, tc.Nonce); err != nil {
		return err
	}
	if err := enc.Write(tc.Signer[:]); err != nil {
		return err
	}
	if err := enc.Write(tc.MrEnclave[:]); err != nil {
		return err
	}
	return enc.Write(tc.Shard[:])
}

func (tc *TrustedCallSigned) encodeTo(enc scale.Encoder) error {
	if len(tc.Signature) != SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(tc.Signature))
	}
	if err := tc.encodePayload(enc); err != nil {
		return err
	}
	return enc.Write(tc.Signature)
}

func (tc *TrustedCallSigned) Encode() ([]byte, error) {
	return common.Encode(tc.encodeTo)
}

func (tc *TrustedCallSigned) Verify() bool {
	payload, err := tc.Payload()
	if err != nil {
		return false
	}
	return keystore.Verify(tc.Signer, payload, tc.Signature)
}

func DecodeTrustedCallSigned(b []byte) (*TrustedCallSigned, error) {
	var tc *TrustedCallSigned
	err := common.Decode(b, func(dec scale.Decoder) (err error) {
		tc, err = decodeCallSigned(dec)
		return err
	})
	return tc, err
}

func decodeCallSigned(dec scale.Decoder) (*TrustedCallSigned, error) {
	call, err := decodeCall(dec)
	if err != nil {
		return nil, err
	}
	tc := &TrustedCallSigned{Call: call}
	if tc.Nonce, err = common.DecodeU32(dec); err != nil {
		return nil, err
	}
	if err := dec.Read(tc.Signer[:]); err != nil {
		return nil, err
	}
	if err := dec.Read(tc.MrEnclave[:]); err != nil {
		return nil, err
	}
	if err := dec.Read(tc.Shard[:]); err != nil {
		return nil, err
	}
	tc.Signature = make([]byte, SignatureLength)
	if err := dec.Read(tc.Signature); err != nil {
		return nil, err
	}
	return tc, nil
}

// TrustedGetterSigned is a query signed by the account it reads. Queries carry
// no nonce.
type TrustedGetterSigned struct {
	Getter    TrustedGetter
	Signature []byte
}

func SignGetter(getter TrustedGetter, pair *keystore.Pair) (*TrustedGetterSigned, error) {
	if pair.Public() != getter.Account() {
		return nil, fmt.Errorf("%w: getter for %s signed by %s", common.ErrKeyAccess, getter.Account().Hex(), pair.Public().Hex())
	}
	payload, err := common.Encode(getter.encodeTo)
	if err != nil {
		return nil, err
	}
	sig, err := pair.Sign(payload)
	if err != nil {
		return nil, err
	}
	return &TrustedGetterSigned{Getter: getter, Signature: sig}, nil
}

func (tg *TrustedGetterSigned) Verify() bool {
	payload, err := common.Encode(tg.Getter.encodeTo)
	if err != nil {
		return false
	}
	return keystore.Verify(tg.Getter.Account(), payload, tg.Signature)
}

func (tg *TrustedGetterSigned) encodeTo(enc scale.Encoder) error {
	if len(tg.Signature) != SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(tg.Signature))
	}
	if err := tg.Getter.encodeTo(enc); err != nil {
		return err
	}
	return enc.Write(tg.Signature)
}

func (tg *TrustedGetterSigned) Encode() ([]byte, error) {
	return common.Encode(tg.encodeTo)
}

func DecodeTrustedGetterSigned(b []byte) (*TrustedGetterSigned, error) {
	var tg *TrustedGetterSigned
	err := common.Decode(b, func(dec scale.Decoder) (err error) {
		tg, err = decodeGetterSigned(dec)
		return err
	})
	return tg, err
}

func decodeGetterSigned(dec scale.Decoder) (*TrustedGetterSigned, error) {
	g, err := decodeGetter(dec)
	if err != nil {
		return nil, err
	}
	tg := &TrustedGetterSigned{Getter: g, Signature: make([]byte, SignatureLength)}
	if err := dec.Read(tg.Signature); err != nil {
		return nil, err
	}
	return tg, nil
}

// CallHash is the hash a worker reports when confirming an encoded call:
// blake2s-256 keyed with 32 zero bytes.
func CallHash(encoded []byte) common.Hash {
	h, _ := blake2s.New256(make([]byte, 32))
	h.Write(encoded)
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}
