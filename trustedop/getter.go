package trustedop

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

const (
	getterFreeBalance byte = iota
	getterReservedBalance
	getterNonce
)

// TrustedGetter is a read-only query against shard state.
type TrustedGetter struct {
	kind byte
	Who  common.AccountID
}

func FreeBalance(who common.AccountID) TrustedGetter {
	return TrustedGetter{kind: getterFreeBalance, Who: who}
}

func ReservedBalance(who common.AccountID) TrustedGetter {
	return TrustedGetter{kind: getterReservedBalance, Who: who}
}

func Nonce(who common.AccountID) TrustedGetter {
	return TrustedGetter{kind: getterNonce, Who: who}
}

func (g TrustedGetter) Account() common.AccountID { return g.Who }

func (g TrustedGetter) IsFreeBalance() bool     { return g.kind == getterFreeBalance }
func (g TrustedGetter) IsReservedBalance() bool { return g.kind == getterReservedBalance }
func (g TrustedGetter) IsNonce() bool           { return g.kind == getterNonce }

func (g TrustedGetter) String() string {
	switch g.kind {
	case getterFreeBalance:
		return fmt.Sprintf("free_balance(%s)", g.Who.Hex())
	case getterReservedBalance:
		return fmt.Sprintf("reserved_balance(%s)", g.Who.Hex())
	default:
		return fmt.Sprintf("nonce(%s)", g.Who.Hex())
	}
}

func (g TrustedGetter) encodeTo(enc scale.Encoder) error {
	if err := enc.PushByte(g.kind); err != nil {
		return err
	}
	return enc.Write(g.Who[:])
}

func decodeGetter(dec scale.Decoder) (TrustedGetter, error) {
	var g TrustedGetter
	tag, err := dec.ReadOneByte()
	if err != nil {
		return g, err
	}
	if tag > getterNonce {
		return g, fmt.Errorf("unknown trusted getter variant %d", tag)
	}
	g.kind = tag
	err = dec.Read(g.Who[:])
	return g, err
}
