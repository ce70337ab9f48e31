// Package trustedop defines the operations executed inside the sealed boundary and
// their signed, canonically encoded forms.
package trustedop

import (
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

const (
	callSetBalance byte = iota
	callTransfer
)

// TrustedCall is a state-mutating operation. The concrete types are
// BalanceSetBalance and BalanceTransfer.
type TrustedCall interface {
	Account() common.AccountID
	String() string
	encodeTo(enc scale.Encoder) error
}

type BalanceSetBalance struct {
	Who      common.AccountID
	Free     *big.Int
	Reserved *big.Int
}

func (c BalanceSetBalance) Account() common.AccountID { return c.Who }

func (c BalanceSetBalance) String() string {
	return fmt.Sprintf("balance_set_balance(%s, %s, %s)", c.Who.Hex(), c.Free, c.Reserved)
}

func (c BalanceSetBalance) encodeTo(enc scale.Encoder) error {
	if err := enc.PushByte(callSetBalance); err != nil {
		return err
	}
	if err := enc.Write(c.Who[:]); err != nil {
		return err
	}
	if err := common.EncodeU128(enc, c.Free); err != nil {
		return err
	}
	return common.EncodeU128(enc, c.Reserved)
}

type BalanceTransfer struct {
	From   common.AccountID
	To     common.AccountID
	Amount *big.Int
}

func (c BalanceTransfer) Account() common.AccountID { return c.From }

func (c BalanceTransfer) String() string {
	return fmt.Sprintf("balance_transfer(%s, %s, %s)", c.From.Hex(), c.To.Hex(), c.Amount)
}

func (c BalanceTransfer) encodeTo(enc scale.Encoder) error {
	if err := enc.PushByte(callTransfer); err != nil {
		return err
	}
	if err := enc.Write(c.From[:]); err != nil {
		return err
	}
	if err := enc.Write(c.To[:]); err != nil {
		return err
	}
	return common.EncodeU128(enc, c.Amount)
}

func EncodeCall(c TrustedCall) ([]byte, error) {
	return common.Encode(c.encodeTo)
}

func decodeCall(dec scale.Decoder) (TrustedCall, error) {
	tag, err := dec.ReadOneByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case callSetBalance:
		var c BalanceSetBalance
		if err := dec.Read(c.Who[:]); err != nil {
			return nil, err
		}
		if c.Free, err = common.DecodeU128(dec); err != nil {
			return nil, err
		}
		if c.Reserved, err = common.DecodeU128(dec); err != nil {
			return nil, err
		}
		return c, nil
	case callTransfer:
		var c BalanceTransfer
		if err := dec.Read(c.From[:]); err != nil {
			return nil, err
		}
		if err := dec.Read(c.To[:]); err != nil {
			return nil, err
		}
		if c.Amount, err = common.DecodeU128(dec); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown trusted call variant %d", tag)
	}
}
