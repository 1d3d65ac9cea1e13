// Package env provides access to ENV variables, loaded from the OS and optionally from ".env" files.
package env

import (
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

var errFlagNameEmpty = errors.New("flag name cannot be empty") // nolint: gochecknoglobals

// Provider is a read-only source of ENV values.
type Provider interface {
	Lookup(key string) (string, bool)
	Get(key string) string
}

// Map of ENV variables, keys are case-insensitive and stored uppercase.
type Map struct {
	lock sync.RWMutex
	data map[string]string
}

func Empty() *Map {
	return &Map{data: make(map[string]string)}
}

func FromMap(data map[string]string) *Map {
	m := Empty()
	for k, v := range data {
		m.Set(k, v)
	}
	return m
}

func FromOs() *Map {
	m := Empty()
	for _, pair := range os.Environ() {
		if k, v, ok := strings.Cut(pair, "="); ok {
			m.Set(k, v)
		}
	}
	return m
}

func (m *Map) ToMap() map[string]string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return maps.Clone(m.data)
}

func (m *Map) Lookup(key string) (string, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.data[strings.ToUpper(key)]
	return v, ok
}

func (m *Map) Get(key string) string {
	v, _ := m.Lookup(key)
	return v
}

func (m *Map) Set(key, value string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.data[strings.ToUpper(key)] = value
}

// Merge copies values from another map, existing keys are kept unless overwrite is set.
func (m *Map) Merge(other *Map, overwrite bool) {
	for k, v := range other.ToMap() {
		if _, found := m.Lookup(k); found && !overwrite {
			continue
		}
		m.Set(k, v)
	}
}
