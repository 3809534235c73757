// ABOUTME: SQLite driver registration for the store
// ABOUTME: Pure-Go modernc driver by default, cgo mattn driver on request

package store

import (
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Driver names accepted by OpenSQLite.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, no cgo
	DriverMattn   = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

func isKnownDriver(name string) bool {
	return name == DriverModernc || name == DriverMattn
}

// partitionLocks hands out one mutex per event partition so seq assignment
// for a (world, chat) pair is serialized within the process.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*sync.Mutex)}
}

func (p *partitionLocks) lock(worldID, chatKey string) func() {
	key := worldID + "\x00" + chatKey
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}
