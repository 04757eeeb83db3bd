package ledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sugawarayuuta/sonnet"

	"feemarket/infra/chain"
)

// Payload is the signed part of an extrinsic.
type Payload struct {
	Signer common.Address          `json:"signer"`
	Call   string                  `json:"call"`
	Args   map[string]*hexutil.Big `json:"args,omitempty"`
	Nonce  hexutil.Uint64          `json:"nonce"`
}

// Extrinsic is what feeMarket_submitExtrinsic receives.
type Extrinsic struct {
	Payload   hexutil.Bytes `json:"payload"`
	Signature hexutil.Bytes `json:"signature"`
}

// KeySigner signs extrinsics with a local secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	account common.Address
	nonce   atomic.Uint64
}

var _ ExtrinsicSigner = (*KeySigner)(nil)

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	s := &KeySigner{key: key, account: crypto.PubkeyToAddress(key.PublicKey)}
	s.nonce.Store(uint64(time.Now().UnixNano()))
	return s
}

func (s *KeySigner) Account() common.Address { return s.account }

func (s *KeySigner) Sign(ctx context.Context, c chain.NativeCall) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := sonnet.Marshal(Payload{
		Signer: s.account,
		Call:   c.Call(),
		Args:   callArgs(c),
		Nonce:  hexutil.Uint64(s.nonce.Add(1)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	sig, err := crypto.Sign(crypto.Keccak256(payload), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign payload")
	}
	return sonnet.Marshal(Extrinsic{Payload: payload, Signature: sig})
}

// Recover returns the payload of xt and the account that signed it.
func Recover(xt []byte) (Payload, common.Address, error) {
	var ext Extrinsic
	if err := sonnet.Unmarshal(xt, &ext); err != nil {
		return Payload{}, common.Address{}, errors.Wrap(err, "decode extrinsic")
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(ext.Payload), ext.Signature)
	if err != nil {
		return Payload{}, common.Address{}, errors.Wrap(err, "recover signer")
	}
	var p Payload
	if err := sonnet.Unmarshal(ext.Payload, &p); err != nil {
		return Payload{}, common.Address{}, errors.Wrap(err, "decode payload")
	}
	return p, crypto.PubkeyToAddress(*pub), nil
}

func callArgs(c chain.NativeCall) map[string]*hexutil.Big {
	switch c := c.(type) {
	case chain.EnrollAndLockCollateral:
		return map[string]*hexutil.Big{"fee": hexBig(c.Fee), "collateral": hexBig(c.Collateral)}
	case chain.UpdateRelayFee:
		return map[string]*hexutil.Big{"fee": hexBig(c.Fee)}
	case chain.UpdateLockedCollateral:
		return map[string]*hexutil.Big{"collateral": hexBig(c.Collateral)}
	}
	return nil
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}
