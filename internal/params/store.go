// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package params provides typed access to airframe parameters stored in YAML
// files, built-in defaults and runtime overrides.
package params

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

// ErrNotFound is returned when no layer holds the requested key.
var ErrNotFound = errors.New("params: not found")

// Store is a read-only view of a parameter set.
type Store interface {
	Int(key string) (int32, error)
	Float(key string) (float64, error)
}

// MapStore is an in-memory parameter set. It is safe for concurrent use.
type MapStore struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewMapStore returns a store holding a copy of values.
func NewMapStore(values map[string]interface{}) *MapStore {
	s := &MapStore{values: make(map[string]interface{}, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set stores a single value.
func (s *MapStore) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Merge stores every value in values.
func (s *MapStore) Merge(values map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
}

// Snapshot returns a copy of the stored values.
func (s *MapStore) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Replace swaps the stored values for a copy of values.
func (s *MapStore) Replace(values map[string]interface{}) {
	next := make(map[string]interface{}, len(values))
	for k, v := range values {
		next[k] = v
	}
	s.mu.Lock()
	s.values = next
	s.mu.Unlock()
}

// Keys returns the stored keys in sorted order.
func (s *MapStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *MapStore) lookup(key string) (interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

// Int returns key as an integer. Floats with a fractional part are rejected.
func (s *MapStore) Int(key string) (int32, error) {
	v, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("params: %s: %w", key, err)
	}
	if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, fmt.Errorf("params: %s: %v is not a 32-bit integer", key, v)
	}
	return int32(f), nil
}

// Float returns key as a float.
func (s *MapStore) Float(key string) (float64, error) {
	v, err := s.lookup(key)
	if err != nil {
		return 0, err
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("params: %s: %w", key, err)
	}
	return f, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		// yaml.v2 decodes integers above MaxInt64 as uint64
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("unsupported value type %T", v)
}

// Layered looks keys up in each store in turn and returns the first hit.
// A store that holds the key with a bad value stops the lookup.
type Layered []Store

func (l Layered) Int(key string) (int32, error) {
	for _, s := range l {
		v, err := s.Int(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (l Layered) Float(key string) (float64, error) {
	for _, s := range l {
		v, err := s.Float(key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// ReadFile loads a YAML parameter file: a flat mapping of parameter name to
// number.
func ReadFile(path string) (*MapStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter file: %w", err)
	}
	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse parameter file %s: %w", path, err)
	}
	return NewMapStore(values), nil
}

// Reloadable is a file-backed store that re-reads its file on Reload.
// Until the first successful Reload it holds no values.
type Reloadable struct {
	path string

	mu    sync.RWMutex
	store *MapStore
}

// NewReloadable returns a store for path without reading it.
func NewReloadable(path string) *Reloadable {
	return &Reloadable{path: path, store: NewMapStore(nil)}
}

// Reload re-reads the file. On error the previously loaded values are kept.
func (r *Reloadable) Reload() error {
	s, err := ReadFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.store = s
	r.mu.Unlock()
	return nil
}

func (r *Reloadable) current() *MapStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store
}

func (r *Reloadable) Int(key string) (int32, error)     { return r.current().Int(key) }
func (r *Reloadable) Float(key string) (float64, error) { return r.current().Float(key) }
