// Package macvendor maps client hardware addresses to IEEE OUI vendor
// names. It loads a macdb.json style database into memory and answers
// lookups by longest registered prefix.
package macvendor

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
)

// Entry is one database record.
type Entry struct {
	MacPrefix  string `json:"macPrefix"`
	VendorName string `json:"vendorName"`
	Private    bool   `json:"private"`
	BlockType  string `json:"blockType"`
}

// prefixLens are the registered block sizes in hex digits, longest first:
// MA-S, MA-M and MA-L.
var prefixLens = []int{9, 7, 6}

// DB is an in-memory vendor database. A nil DB knows no vendors.
type DB struct {
	mu      sync.RWMutex
	vendors map[string]string // lowercase hex prefix -> vendor name
}

// NewDB creates an empty database.
func NewDB() *DB {
	return &DB{vendors: make(map[string]string)}
}

// Open loads the database file at path.
func Open(path string) (*DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vendor database: %w", err)
	}
	db := NewDB()
	if err := db.Load(data); err != nil {
		return nil, err
	}
	return db, nil
}

// Load replaces the contents with the JSON array in data.
func (db *DB) Load(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing vendor database: %w", err)
	}

	vendors := make(map[string]string, len(entries))
	for _, e := range entries {
		if p := normalize(e.MacPrefix); len(p) >= 6 {
			vendors[p] = e.VendorName
		}
	}

	db.mu.Lock()
	db.vendors = vendors
	db.mu.Unlock()
	return nil
}

// Lookup returns the vendor registered for mac, or "".
func (db *DB) Lookup(mac net.HardwareAddr) string {
	if db == nil || len(mac) < 3 {
		return ""
	}
	digits := hex.EncodeToString(mac)

	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, n := range prefixLens {
		if n > len(digits) {
			continue
		}
		if v, ok := db.vendors[digits[:n]]; ok {
			return v
		}
	}
	return ""
}

// Count returns the number of prefixes loaded.
func (db *DB) Count() int {
	if db == nil {
		return 0
	}
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// normalize turns "00:00:0C", "00-00-0C" or "0000.0C" into "00000c".
func normalize(prefix string) string {
	return strings.ToLower(strings.NewReplacer(":", "", "-", "", ".", "").Replace(prefix))
}
