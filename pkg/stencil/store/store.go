// Package store persists stencil tables in a pebble database so a process
// can load a precomputed table instead of generating one.
package store

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"tracejit/pkg/abi"
	"tracejit/pkg/stencil"
)

var ErrNotFound = errors.New("stencil table not found")

// Store is a pebble-backed stencil table repository.
//
// Keys:
//
//	table/<arch>/<convention>/<version> -> CBOR table
//	latest/<arch>/<convention>          -> version
type Store struct {
	db *pebble.DB
}

// Open opens or creates the store at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open stencil store %s", dir)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func tablePrefix(arch string, conv abi.Convention) string {
	return "table/" + arch + "/" + conv.String() + "/"
}

func tableKey(arch string, conv abi.Convention, version string) []byte {
	return []byte(tablePrefix(arch, conv) + version)
}

func latestKey(arch string, conv abi.Convention) []byte {
	return []byte("latest/" + arch + "/" + conv.String())
}

// Put stores t and makes it the latest table for its arch and convention.
func (s *Store) Put(t *stencil.Table) error {
	if t.Version == "" {
		return errors.New("refusing to store an unsealed stencil table")
	}
	data, err := stencil.Encode(t)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(tableKey(t.Arch, t.Convention, t.Version), data, nil); err != nil {
		return errors.Wrap(err, "stage stencil table")
	}
	if err := batch.Set(latestKey(t.Arch, t.Convention), []byte(t.Version), nil); err != nil {
		return errors.Wrap(err, "stage latest version")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "commit stencil table")
	}
	return nil
}

func (s *Store) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "key %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	defer closer.Close()
	return append([]byte(nil), value...), nil
}

// Get loads a specific table version.
func (s *Store) Get(arch string, conv abi.Convention, version string) (*stencil.Table, error) {
	data, err := s.get(tableKey(arch, conv, version))
	if err != nil {
		return nil, err
	}
	return stencil.Decode(data)
}

// Latest loads the most recently stored table for arch and convention.
func (s *Store) Latest(arch string, conv abi.Convention) (*stencil.Table, error) {
	version, err := s.get(latestKey(arch, conv))
	if err != nil {
		return nil, err
	}
	return s.Get(arch, conv, string(version))
}

// Versions lists every stored version for arch and convention.
func (s *Store) Versions(arch string, conv abi.Convention) ([]string, error) {
	prefix := tablePrefix(arch, conv)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixEnd([]byte(prefix)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "iterate stencil tables")
	}
	defer iter.Close()

	var versions []string
	for iter.First(); iter.Valid(); iter.Next() {
		versions = append(versions, strings.TrimPrefix(string(iter.Key()), prefix))
	}
	return versions, iter.Error()
}

// LoadOrBuild returns the latest stored table for a, generating and storing
// one when the store has none. built reports whether generation ran.
func (s *Store) LoadOrBuild(a abi.ABI) (t *stencil.Table, built bool, err error) {
	t, err = s.Latest(a.Arch(), a.Convention)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	t, err = stencil.Build(a)
	if err != nil {
		return nil, false, err
	}
	if err := s.Put(t); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
