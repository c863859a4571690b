package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailored-agentic-units/storecore/store/merge"
	"github.com/tailored-agentic-units/storecore/store/value"
)

// fileStore is a Driver backed by the filesystem. Keys map 1:1 to relative
// file paths under root, each written via an atomic temp-file-and-rename so
// a crash mid-write never leaves a partially-written value on disk.
type fileStore struct {
	root string
}

// NewFileStore creates a Driver rooted at dir. The directory is created on
// first write if it does not already exist.
func NewFileStore(dir string) Driver {
	return &fileStore{root: dir}
}

func (s *fileStore) Init(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *fileStore) GetAllKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == s.root {
				return fs.SkipAll
			}
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys[filepath.ToSlash(rel)] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get all keys: %w", err)
	}
	return keys, nil
}

func (s *fileStore) GetItem(ctx context.Context, key string) (*value.Value, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	var v value.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	return &v, nil
}

func (s *fileStore) SetItem(ctx context.Context, key string, v *value.Value) error {
	if value.IsUndefined(v) || value.IsNull(v) {
		return s.RemoveItems(ctx, []string{key})
	}
	return s.writeFile(key, v)
}

func (s *fileStore) MultiSet(ctx context.Context, pairs map[string]*value.Value) error {
	for k, v := range pairs {
		if err := s.SetItem(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) MergeItem(ctx context.Context, key string, delta, preMerged *value.Value, shouldSetValue bool) error {
	if value.IsNull(delta) {
		return s.RemoveItems(ctx, []string{key})
	}
	if shouldSetValue {
		return s.writeFile(key, preMerged)
	}
	existing, err := s.GetItem(ctx, key)
	if err != nil {
		return err
	}
	merged := merge.Apply(existing, []*value.Value{delta}, true)
	return s.writeFile(key, merged)
}

func (s *fileStore) MultiMerge(ctx context.Context, pairs map[string]*value.Value) error {
	for k, delta := range pairs {
		existing, err := s.GetItem(ctx, k)
		if err != nil {
			return err
		}
		if err := s.MergeItem(ctx, k, delta, merge.Apply(existing, []*value.Value{delta}, true), value.IsUndefined(existing)); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) RemoveItems(ctx context.Context, keys []string) error {
	for _, key := range keys {
		path := filepath.Join(s.root, filepath.FromSlash(key))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove item %s: %w", key, err)
		}

		dir := filepath.Dir(path)
		for dir != s.root {
			if err := os.Remove(dir); err != nil {
				break
			}
			dir = filepath.Dir(dir)
		}
	}
	return nil
}

func (s *fileStore) writeFile(key string, v *value.Value) error {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write item %s: %w", key, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("write item %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write item %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write item %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write item %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write item %s: %w", key, err)
	}
	return nil
}
