package journal

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"feemarket/domain/relayer"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ops (
	op_id   TEXT PRIMARY KEY,
	state   INTEGER NOT NULL,
	created INTEGER NOT NULL,
	body    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS ops_state ON ops (state, created);
CREATE TABLE IF NOT EXISTS events (
	seq  INTEGER PRIMARY KEY,
	body BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	k TEXT PRIMARY KEY,
	v INTEGER NOT NULL
);`

// SQLiteStore is a Store on a single sqlite file. Rows hold the same wire
// encoding as the pebble store; the indexed columns only serve scans.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) dir/journal.db.
func OpenSQLite(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create journal dir %s", dir)
	}
	db, err := sql.Open("sqlite3", filepath.Join(dir, "journal.db")+"?_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create journal schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(r Record) error {
	now := time.Now().UnixNano()
	if r.Created == 0 {
		r.Created = now
	}
	r.Updated = now
	_, err := s.db.Exec(
		`INSERT INTO ops (op_id, state, created, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(op_id) DO UPDATE SET state = excluded.state, body = excluded.body`,
		r.OpID, int(r.State), r.Created, EncodeRecord(r),
	)
	return errors.Wrapf(err, "put %s", r.OpID)
}

func (s *SQLiteStore) Update(opID string, state State, errMsg string) error {
	r, err := s.Get(opID)
	if err != nil {
		return err
	}
	r.State = state
	r.Err = errMsg
	return s.Put(r)
}

func (s *SQLiteStore) Get(opID string) (Record, error) {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM ops WHERE op_id = ?`, opID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "get %s", opID)
	}
	return DecodeRecord(body)
}

func (s *SQLiteStore) ScanByState(state State, fn func(Record) error) error {
	rows, err := s.db.Query(`SELECT body FROM ops WHERE state = ? ORDER BY created`, int(state))
	if err != nil {
		return errors.Wrap(err, "scan ops")
	}
	var matched []Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return err
		}
		r, err := DecodeRecord(body)
		if err != nil {
			rows.Close()
			return err
		}
		matched = append(matched, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// fn may write to the store; the single connection is free again here.
	for _, r := range matched {
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ev relayer.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO events (seq, body) VALUES (?, ?)`, int64(ev.Seq), EncodeEvent(ev)); err != nil {
		return errors.Wrapf(err, "append event %d", ev.Seq)
	}
	if _, err := tx.Exec(
		`INSERT INTO meta (k, v) VALUES ('last_event_seq', ?)
		 ON CONFLICT(k) DO UPDATE SET v = max(v, excluded.v)`, int64(ev.Seq),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) ScanEvents(fn func(relayer.Event) error) error {
	rows, err := s.db.Query(`SELECT body FROM events ORDER BY seq`)
	if err != nil {
		return errors.Wrap(err, "scan events")
	}
	var events []relayer.Event
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			rows.Close()
			return err
		}
		ev, err := DecodeEvent(body)
		if err != nil {
			rows.Close()
			return err
		}
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, ev := range events {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) AckEvent(seq uint64) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE seq = ?`, int64(seq))
	return errors.Wrapf(err, "ack event %d", seq)
}

func (s *SQLiteStore) LastEventSeq() (uint64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT v FROM meta WHERE k = 'last_event_seq'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}
