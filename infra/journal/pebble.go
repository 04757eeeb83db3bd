package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"

	"feemarket/domain/relayer"
)

// Key layout:
//
//	op/<opID>            -> record
//	event/<seq:%020d>    -> event
//	meta/last-event-seq  -> uint64, big endian
var (
	opPrefix     = []byte("op/")
	eventPrefix  = []byte("event/")
	lastEventKey = []byte("meta/last-event-seq")
)

// PebbleStore is a Store on a pebble database. Every write is synced.
type PebbleStore struct {
	db *pebble.DB
}

var _ Store = (*PebbleStore)(nil)

func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// -------------------- Records --------------------

func (s *PebbleStore) Put(r Record) error {
	now := time.Now().UnixNano()
	if r.Created == 0 {
		r.Created = now
	}
	r.Updated = now
	return s.db.Set(opKey(r.OpID), EncodeRecord(r), pebble.Sync)
}

func (s *PebbleStore) Update(opID string, state State, errMsg string) error {
	r, err := s.Get(opID)
	if err != nil {
		return err
	}
	r.State = state
	r.Err = errMsg
	return s.Put(r)
}

func (s *PebbleStore) Get(opID string) (Record, error) {
	val, closer, err := s.db.Get(opKey(opID))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return DecodeRecord(val)
}

func (s *PebbleStore) ScanByState(state State, fn func(Record) error) error {
	var matched []Record
	err := s.scan(opPrefix, func(_, val []byte) error {
		r, err := DecodeRecord(val)
		if err != nil {
			return err
		}
		if r.State == state {
			matched = append(matched, r)
		}
		return nil
	})
	if err != nil {
		return err
	}
	sortByCreated(matched)
	for _, r := range matched {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// -------------------- Outbox --------------------

func (s *PebbleStore) AppendEvent(ev relayer.Event) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(eventKey(ev.Seq), EncodeEvent(ev), nil); err != nil {
		return err
	}
	last, err := s.LastEventSeq()
	if err != nil {
		return err
	}
	if ev.Seq > last {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], ev.Seq)
		if err := batch.Set(lastEventKey, buf[:], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) ScanEvents(fn func(relayer.Event) error) error {
	return s.scan(eventPrefix, func(_, val []byte) error {
		ev, err := DecodeEvent(val)
		if err != nil {
			return err
		}
		return fn(ev)
	})
}

func (s *PebbleStore) AckEvent(seq uint64) error {
	return s.db.Delete(eventKey(seq), pebble.Sync)
}

func (s *PebbleStore) LastEventSeq() (uint64, error) {
	val, closer, err := s.db.Get(lastEventKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, errors.New("journal: corrupt last event sequence")
	}
	return binary.BigEndian.Uint64(val), nil
}

// -------------------- Helpers --------------------

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func upperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	end[len(end)-1]++
	return end
}

func opKey(opID string) []byte {
	return append(bytes.Clone(opPrefix), opID...)
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("event/%020d", seq))
}

func sortByCreated(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Created < rs[j].Created })
}
