// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package conn

import (
	"sync"
	"sync/atomic"
	"time"
)

// MaxSlots is the connection table's growth cap (section 5).
const MaxSlots = 5000

// DefaultIdleTimeout is the idle-sweep cap for connections without
// NOTIMEOUT set (section 3).
const DefaultIdleTimeout = 900 * time.Second

// Table is the process-wide connection table (section 4.4): a growable
// structure keyed by connection ID, guarded by its own lock. A plain
// sync.RWMutex satisfies the "recursive lock" requirement at the table
// level because table operations (Add/Remove/lookup) never nest across a
// suspension point — only per-connection locks (Connection.Lock) need
// true reentrancy.
type Table struct {
	mu      sync.RWMutex
	conns   map[ID]*Connection
	lastUse map[ID]time.Time
	nextID  int64
}

func NewTable() *Table {
	return &Table{conns: map[ID]*Connection{}, lastUse: map[ID]time.Time{}}
}

// Add inserts c into the table, assigning it a fresh ID, and returns an
// error if the table is at capacity.
func (t *Table) Add(c *Connection) (ID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) >= MaxSlots {
		return 0, errTableFull
	}
	id := ID(atomic.AddInt64(&t.nextID, 1))
	c.ID = id
	t.conns[id] = c
	t.lastUse[id] = time.Now()
	return id, nil
}

// Get looks up a connection by ID.
func (t *Table) Get(id ID) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[id]
	return c, ok
}

// Touch records activity on id, resetting its idle-sweep clock.
func (t *Table) Touch(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.conns[id]; ok {
		t.lastUse[id] = time.Now()
	}
}

// Remove deletes id from the table, e.g. on socket close.
func (t *Table) Remove(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, id)
	delete(t.lastUse, id)
}

// Len reports the current number of tracked connections.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// SweepIdle closes and removes every connection idle longer than
// maxIdle, unless it has NoTimeout set (section 3: "destroyed... when an
// idle sweep exceeds a configurable cap... unless the NOTIMEOUT authen
// flag is set"). Returns the IDs removed.
func (t *Table) SweepIdle(maxIdle time.Duration) []ID {
	now := time.Now()
	var stale []ID

	t.mu.RLock()
	for id, c := range t.conns {
		if c.NoTimeout {
			continue
		}
		if now.Sub(t.lastUse[id]) > maxIdle {
			stale = append(stale, id)
		}
	}
	t.mu.RUnlock()

	for _, id := range stale {
		if c, ok := t.Get(id); ok {
			_ = c.Close()
		}
		t.Remove(id)
	}
	return stale
}

type tableError string

func (e tableError) Error() string { return string(e) }

const errTableFull = tableError("conn: table at capacity (5000 slots)")
