package snapshot

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sugawarayuuta/sonnet"

	"feemarket/domain/orderbook"
)

// Document is the JSON form of a snapshot. Amounts are base-10 strings.
type Document struct {
	Height   uint64    `json:"height"`
	ReadAt   time.Time `json:"read_at"`
	Relayers []Relayer `json:"relayers"`
}

type Relayer struct {
	Position   int    `json:"position"`
	Address    string `json:"address"`
	Fee        string `json:"fee"`
	Collateral string `json:"collateral"`
	Locked     string `json:"locked"`
}

// FromSnapshot converts s. A nil snapshot yields an empty document.
func FromSnapshot(s *orderbook.Snapshot) Document {
	d := Document{
		Height:   s.Height(),
		ReadAt:   s.ReadAt().UTC(),
		Relayers: make([]Relayer, 0, s.Len()),
	}
	s.Walk(func(i int, e orderbook.Entry) bool {
		d.Relayers = append(d.Relayers, Relayer{
			Position:   i + 1,
			Address:    e.Address.Hex(),
			Fee:        e.Fee.String(),
			Collateral: e.Collateral.String(),
			Locked:     e.Locked.String(),
		})
		return true
	})
	return d
}

// Snapshot rebuilds an order book from d, enforcing the usual invariants.
func (d Document) Snapshot() (*orderbook.Snapshot, error) {
	entries := make([]orderbook.Entry, len(d.Relayers))
	for i, r := range d.Relayers {
		if !common.IsHexAddress(r.Address) {
			return nil, errors.Errorf("relayer %d: bad address %q", i, r.Address)
		}
		fee, err := parseAmount(r.Fee)
		if err != nil {
			return nil, errors.Wrapf(err, "relayer %s fee", r.Address)
		}
		coll, err := parseAmount(r.Collateral)
		if err != nil {
			return nil, errors.Wrapf(err, "relayer %s collateral", r.Address)
		}
		locked, err := parseAmount(r.Locked)
		if err != nil {
			return nil, errors.Wrapf(err, "relayer %s locked", r.Address)
		}
		entries[i] = orderbook.Entry{
			Address:    common.HexToAddress(r.Address),
			Fee:        fee,
			Collateral: coll,
			Locked:     locked,
		}
	}
	return orderbook.NewSnapshotAt(entries, d.Height, d.ReadAt)
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.Errorf("bad amount %q", s)
	}
	return v, nil
}

// Marshal encodes s as a Document.
func Marshal(s *orderbook.Snapshot) ([]byte, error) {
	return sonnet.Marshal(FromSnapshot(s))
}

// Unmarshal decodes a Document and rebuilds the snapshot.
func Unmarshal(b []byte) (*orderbook.Snapshot, error) {
	var d Document
	if err := sonnet.Unmarshal(b, &d); err != nil {
		return nil, errors.Wrap(err, "decode snapshot document")
	}
	return d.Snapshot()
}
