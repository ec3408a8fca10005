package edge

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrSnapshotMissing is returned by Load when nothing has been saved yet.
var ErrSnapshotMissing = errors.New("snapshot: no redirect table stored")

var snapshotKey = []byte("redirects:table")

type storedTable struct {
	Rules     []RedirectRule
	FetchedAt int64 // unix nanoseconds
}

// snapshotStore keeps the last successfully fetched redirect table on disk so
// a restart while the content API is down still has rules to serve.
type snapshotStore struct {
	db *leveldb.DB
}

func openSnapshotStore(path string) (*snapshotStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	return &snapshotStore{db: db}, nil
}

func (s *snapshotStore) Save(t *RedirectTable) error {
	st := storedTable{Rules: t.Rules}
	if !t.FetchedAt.IsZero() {
		st.FetchedAt = t.FetchedAt.UnixNano()
	}
	b, err := encodeGob(st)
	if err != nil {
		return err
	}
	return s.db.Put(snapshotKey, b, nil)
}

// Load returns the stored rules and the unix-nano time they were fetched.
func (s *snapshotStore) Load() ([]RedirectRule, int64, error) {
	b, err := s.db.Get(snapshotKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, 0, ErrSnapshotMissing
	}
	if err != nil {
		return nil, 0, err
	}
	var st storedTable
	if err := decodeGob(b, &st); err != nil {
		return nil, 0, fmt.Errorf("decode snapshot: %w", err)
	}
	return st.Rules, st.FetchedAt, nil
}

func (s *snapshotStore) Close() error {
	return s.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
