// Package profiles implements the sharded, lazily-loaded allele-call store:
// a hot in-memory map backed by cold, gzip-compressed JSON shards on disk.
package profiles

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ShardSize is the number of profiles in each cold shard file. Save promotes
// hot profiles into new shards of this size while more than ShardSize
// remain hot.
const ShardSize = 1000

// ErrNotFound is returned by Get when the key has no stored profile.
var ErrNotFound = errors.New("profiles: key not found")

// shardRef locates a key within a cold shard. It marshals as the two-element
// array [shard, slot], matching the persisted index format exactly.
type shardRef struct {
	Shard int
	Slot  int
}

func (r shardRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Shard, r.Slot})
}

func (r *shardRef) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	r.Shard, r.Slot = pair[0], pair[1]
	return nil
}

// Store is the allele-call profile store for one organism's "current"
// directory: calls.gzip (hot tail), index.gzip (key -> shard/slot), and
// matrix.<n>.gzip shard files.
type Store struct {
	dir string

	hot    map[string][]int
	index  map[string]shardRef
	shards map[int]map[string][]int

	nextShard int
}

// New creates an empty store rooted at dir (not yet created on disk).
func New(dir string) *Store {
	return &Store{
		dir:    dir,
		hot:    map[string][]int{},
		index:  map[string]shardRef{},
		shards: map[int]map[string][]int{},
	}
}

// Add inserts a brand-new profile. It is an error to Add a key that already
// exists in the store (hot or cold).
func (s *Store) Add(key string, profile []int) error {
	if s.Has(key) {
		return fmt.Errorf("profiles: key %q already exists", key)
	}
	s.hot[key] = profile
	return nil
}

// Has reports whether key has a stored profile, hot or cold.
func (s *Store) Has(key string) bool {
	if _, ok := s.hot[key]; ok {
		return true
	}
	_, ok := s.index[key]
	return ok
}

// Get returns the profile for key, lazily loading its shard from disk if
// necessary.
func (s *Store) Get(key string) ([]int, error) {
	if p, ok := s.hot[key]; ok {
		return p, nil
	}
	ref, ok := s.index[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	shard, err := s.loadShard(ref.Shard)
	if err != nil {
		return nil, err
	}
	p, ok := shard[key]
	if !ok {
		return nil, fmt.Errorf("profiles: key %q indexed to shard %d but not present in it", key, ref.Shard)
	}
	return p, nil
}

// Len returns the total number of profiles, hot and cold.
func (s *Store) Len() int {
	return len(s.hot) + len(s.index)
}

// Keys returns every key held by the store, hot and cold, in no particular
// order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.Len())
	for k := range s.hot {
		keys = append(keys, k)
	}
	for k := range s.index {
		keys = append(keys, k)
	}
	return keys
}

func (s *Store) loadShard(n int) (map[string][]int, error) {
	if shard, ok := s.shards[n]; ok {
		return shard, nil
	}
	path := filepath.Join(s.dir, shardName(n))
	shard, err := readGzipJSON[map[string][]int](path)
	if err != nil {
		return nil, fmt.Errorf("loading shard %d: %w", n, err)
	}
	s.shards[n] = shard
	return shard, nil
}

func shardName(n int) string { return fmt.Sprintf("matrix.%d.gzip", n) }

const (
	tailName  = "calls.gzip"
	indexName = "index.gzip"
)

// Load reads an existing store from dir: the tail file and the index file.
// Shards are not read until a key resolving to one is actually requested.
func Load(dir string) (*Store, error) {
	s := New(dir)

	tailPath := filepath.Join(dir, tailName)
	if _, err := os.Stat(tailPath); err == nil {
		hot, err := readGzipJSON[map[string][]int](tailPath)
		if err != nil {
			return nil, fmt.Errorf("loading profile store tail: %w", err)
		}
		s.hot = hot
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading profile store tail: %w", err)
	}

	indexPath := filepath.Join(dir, indexName)
	if _, err := os.Stat(indexPath); err == nil {
		idx, err := readGzipJSON[map[string]shardRef](indexPath)
		if err != nil {
			return nil, fmt.Errorf("loading profile store index: %w", err)
		}
		s.index = idx
		for _, ref := range idx {
			if ref.Shard >= s.nextShard {
				s.nextShard = ref.Shard + 1
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading profile store index: %w", err)
	}

	return s, nil
}

// Save persists the store to dir: it promotes keys from the hot map into
// fresh ShardSize-sized cold shards until at most ShardSize keys remain hot,
// then writes the tail and index. Existing shard files already written in a
// prior Save are left untouched (shards are append-only once created).
//
// Each file is written atomically: write to a temp file in the same
// directory, fsync, rename over the destination, then fsync the directory.
func (s *Store) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating profile store directory: %w", err)
	}
	s.dir = dir

	for len(s.hot) > ShardSize {
		keys := make([]string, 0, len(s.hot))
		for k := range s.hot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		keys = keys[:ShardSize]

		shard := make(map[string][]int, ShardSize)
		n := s.nextShard
		for i, k := range keys {
			shard[k] = s.hot[k]
			s.index[k] = shardRef{Shard: n, Slot: i}
			delete(s.hot, k)
		}
		s.shards[n] = shard
		s.nextShard++

		if err := writeGzipJSONAtomic(filepath.Join(dir, shardName(n)), shard); err != nil {
			return fmt.Errorf("writing shard %d: %w", n, err)
		}
	}

	if err := writeGzipJSONAtomic(filepath.Join(dir, tailName), s.hot); err != nil {
		return fmt.Errorf("writing profile store tail: %w", err)
	}
	if err := writeGzipJSONAtomic(filepath.Join(dir, indexName), s.index); err != nil {
		return fmt.Errorf("writing profile store index: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir fsyncs the directory itself so that the renames above are durable,
// not just the files they targeted. Best-effort: some filesystems don't
// support fsync on directories, so a failure here isn't fatal.
func syncDir(dir string) {
	f, err := os.Open(dir)
	if err != nil {
		return
	}
	defer f.Close()
	_ = f.Sync()
}

func readGzipJSON[T any](path string) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return zero, err
	}
	defer gr.Close()

	var v T
	if err := json.NewDecoder(gr).Decode(&v); err != nil {
		return zero, err
	}
	return v, nil
}

func writeGzipJSONAtomic(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gw := gzip.NewWriter(f)
	enc := json.NewEncoder(gw)
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
