package journal

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"feemarket/domain/relayer"
	"feemarket/infra/chain"
)

// Records and events use the protobuf wire format so that downstream
// consumers can decode them from a .proto description. Unknown fields are
// skipped on decode.

// record fields
const (
	recOpID    protowire.Number = 1
	recOp      protowire.Number = 2
	recRelayer protowire.Number = 3
	recChain   protowire.Number = 4
	recTxHash  protowire.Number = 5
	recMethod  protowire.Number = 6
	recFrom    protowire.Number = 7
	recAmount  protowire.Number = 8
	recState   protowire.Number = 9
	recErr     protowire.Number = 10
	recCreated protowire.Number = 11
	recUpdated protowire.Number = 12
)

// event fields
const (
	evSeq     protowire.Number = 1
	evOpID    protowire.Number = 2
	evRelayer protowire.Number = 3
	evOp      protowire.Number = 4
	evFrom    protowire.Number = 5
	evTo      protowire.Number = 6
	evTxHash  protowire.Number = 7
	evAmount  protowire.Number = 8
	evKind    protowire.Number = 9
	evErr     protowire.Number = 10
	evTime    protowire.Number = 11
)

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// amounts are unsigned big-endian bytes
func amountBytes(v *big.Int) []byte {
	if v == nil || v.Sign() <= 0 {
		return nil
	}
	return v.Bytes()
}

func EncodeRecord(r Record) []byte {
	var b []byte
	b = appendString(b, recOpID, r.OpID)
	b = appendVarint(b, recOp, uint64(r.Op))
	b = appendBytes(b, recRelayer, r.Relayer.Bytes())
	b = appendVarint(b, recChain, uint64(r.Chain))
	b = appendBytes(b, recTxHash, r.TxHash.Bytes())
	b = appendString(b, recMethod, r.Method)
	b = appendVarint(b, recFrom, uint64(r.From))
	b = appendBytes(b, recAmount, amountBytes(r.Amount))
	b = appendVarint(b, recState, uint64(r.State))
	b = appendString(b, recErr, r.Err)
	b = appendVarint(b, recCreated, uint64(r.Created))
	b = appendVarint(b, recUpdated, uint64(r.Updated))
	return b
}

func DecodeRecord(b []byte) (Record, error) {
	var r Record
	err := decodeFields(b, func(num protowire.Number, v uint64, raw []byte) {
		switch num {
		case recOpID:
			r.OpID = string(raw)
		case recOp:
			r.Op = relayer.Op(v)
		case recRelayer:
			r.Relayer = common.BytesToAddress(raw)
		case recChain:
			r.Chain = chain.ChainKind(v)
		case recTxHash:
			r.TxHash = common.BytesToHash(raw)
		case recMethod:
			r.Method = string(raw)
		case recFrom:
			r.From = relayer.State(v)
		case recAmount:
			r.Amount = new(big.Int).SetBytes(raw)
		case recState:
			r.State = State(v)
		case recErr:
			r.Err = string(raw)
		case recCreated:
			r.Created = int64(v)
		case recUpdated:
			r.Updated = int64(v)
		}
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "decode record")
	}
	return r, nil
}

func EncodeEvent(ev relayer.Event) []byte {
	var b []byte
	b = appendVarint(b, evSeq, ev.Seq)
	b = appendString(b, evOpID, ev.OpID)
	b = appendBytes(b, evRelayer, ev.Relayer.Bytes())
	b = appendVarint(b, evOp, uint64(ev.Op))
	b = appendVarint(b, evFrom, uint64(ev.From))
	b = appendVarint(b, evTo, uint64(ev.To))
	b = appendString(b, evTxHash, ev.TxHash)
	b = appendBytes(b, evAmount, amountBytes(ev.Amount))
	b = appendVarint(b, evKind, uint64(ev.Kind))
	b = appendString(b, evErr, ev.Err)
	b = appendVarint(b, evTime, uint64(ev.Time))
	return b
}

func DecodeEvent(b []byte) (relayer.Event, error) {
	var ev relayer.Event
	err := decodeFields(b, func(num protowire.Number, v uint64, raw []byte) {
		switch num {
		case evSeq:
			ev.Seq = v
		case evOpID:
			ev.OpID = string(raw)
		case evRelayer:
			ev.Relayer = common.BytesToAddress(raw)
		case evOp:
			ev.Op = relayer.Op(v)
		case evFrom:
			ev.From = relayer.State(v)
		case evTo:
			ev.To = relayer.State(v)
		case evTxHash:
			ev.TxHash = string(raw)
		case evAmount:
			ev.Amount = new(big.Int).SetBytes(raw)
		case evKind:
			ev.Kind = relayer.ErrorKind(v)
		case evErr:
			ev.Err = string(raw)
		case evTime:
			ev.Time = int64(v)
		}
	})
	if err != nil {
		return relayer.Event{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}

// decodeFields walks b, handing varint fields to fn as v and
// length-delimited fields as raw. Other wire types are skipped.
func decodeFields(b []byte, fn func(num protowire.Number, v uint64, raw []byte)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, v, nil)
			b = b[n:]
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			fn(num, 0, raw)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
