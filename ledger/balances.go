package ledger

import (
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

const addressID byte = 0x00

// TransferCall builds a public balance transfer to dest.
func TransferCall(module, function byte, dest common.AccountID, amount *big.Int) (Call, error) {
	if amount.Sign() < 0 {
		return Call{}, fmt.Errorf("%w: negative amount %s", common.ErrEncoding, amount)
	}
	args, err := common.Encode(func(enc scale.Encoder) error {
		if err := enc.PushByte(addressID); err != nil {
			return err
		}
		if err := enc.Write(dest[:]); err != nil {
			return err
		}
		return enc.EncodeUintCompact(*amount)
	})
	return Call{Module: module, Function: function, Args: args}, err
}

// ParseTransfer is the inverse of TransferCall.
func ParseTransfer(c Call) (common.AccountID, *big.Int, error) {
	var dest common.AccountID
	var amount *big.Int
	err := common.Decode(c.Args, func(dec scale.Decoder) error {
		kind, err := dec.ReadOneByte()
		if err != nil {
			return err
		}
		if kind != addressID {
			return fmt.Errorf("unsupported address kind %d", kind)
		}
		if err := common.DecodeFixed(dec, dest[:]); err != nil {
			return err
		}
		v, err := dec.DecodeUintCompact()
		if err != nil {
			return err
		}
		amount = new(big.Int).Set(v)
		return nil
	})
	return dest, amount, err
}
