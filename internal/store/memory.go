package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fractal-lba/rankeval/internal/eval"
)

type memoryKey struct {
	table Table
	scope Scope
}

type memoryEntry struct {
	matrixUUID string
	results    []eval.Result
}

// MemoryStore is an in-process Sink for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[memoryKey]memoryEntry
}

// NewMemoryStore creates an empty in-memory sink.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[memoryKey]memoryEntry)}
}

func (m *MemoryStore) Replace(ctx context.Context, table Table, scope Scope, matrixUUID string, results []eval.Result) error {
	if !table.Valid() {
		return fmt.Errorf("unknown result table %q", table)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rows := make([]eval.Result, len(results))
	copy(rows, results)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.scopes[memoryKey{table, scope.normalized()}] = memoryEntry{matrixUUID: matrixUUID, results: rows}
	return nil
}

func (m *MemoryStore) ExistingKeys(ctx context.Context, table Table, scope Scope) (map[eval.Key]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make(map[eval.Key]struct{})
	for _, r := range m.scopes[memoryKey{table, scope.normalized()}].results {
		keys[r.Key()] = struct{}{}
	}
	return keys, nil
}

// Load returns a copy of the scope's rows ordered by metric and parameter.
func (m *MemoryStore) Load(table Table, scope Scope) (matrixUUID string, results []eval.Result) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e := m.scopes[memoryKey{table, scope.normalized()}]
	results = make([]eval.Result, len(e.results))
	copy(results, e.results)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Metric != results[j].Metric {
			return results[i].Metric < results[j].Metric
		}
		return results[i].Parameter < results[j].Parameter
	})
	return e.matrixUUID, results
}

// Scopes returns the number of scopes stored in table.
func (m *MemoryStore) Scopes(table Table) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for k := range m.scopes {
		if k.table == table {
			n++
		}
	}
	return n
}
