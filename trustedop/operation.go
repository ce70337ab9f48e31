package trustedop

import (
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"

	"github.com/salrashid123/trustedcall/common"
)

const (
	opCall byte = iota
	opGet
)

// TrustedOperation is either a signed call or a signed getter; exactly one is set.
type TrustedOperation struct {
	Call *TrustedCallSigned
	Get  *TrustedGetterSigned
}

func CallOperation(c *TrustedCallSigned) TrustedOperation { return TrustedOperation{Call: c} }

func GetOperation(g *TrustedGetterSigned) TrustedOperation { return TrustedOperation{Get: g} }

func (op TrustedOperation) Encode() ([]byte, error) {
	return common.Encode(func(enc scale.Encoder) error {
		switch {
		case op.Call != nil && op.Get == nil:
			if err := enc.PushByte(opCall); err != nil {
				return err
			}
			return op.Call.encodeTo(enc)
		case op.Get != nil && op.Call == nil:
			if err := enc.PushByte(opGet); err != nil {
				return err
			}
			return op.Get.encodeTo(enc)
		default:
			return fmt.Errorf("trusted operation must hold exactly one of call or getter")
		}
	})
}

func DecodeTrustedOperation(b []byte) (TrustedOperation, error) {
	var op TrustedOperation
	err := common.Decode(b, func(dec scale.Decoder) error {
		tag, err := dec.ReadOneByte()
		if err != nil {
			return err
		}
		switch tag {
		case opCall:
			op.Call, err = decodeCallSigned(dec)
		case opGet:
			op.Get, err = decodeGetterSigned(dec)
		default:
			err = fmt.Errorf("unknown trusted operation variant %d", tag)
		}
		return err
	})
	return op, err
}
