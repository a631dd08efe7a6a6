package macvendor

import (
	"net"
	"os"
	"path/filepath"
	"testing"
)

const testDB = `[
	{"macPrefix": "00:00:0C", "vendorName": "Cisco Systems, Inc", "private": false, "blockType": "MA-L"},
	{"macPrefix": "00:1A:2B", "vendorName": "Ayecom Technology Co., Ltd.", "private": false, "blockType": "MA-L"},
	{"macPrefix": "70:B3:D5:1F:E", "vendorName": "Small Block Ltd", "private": false, "blockType": "MA-S"},
	{"macPrefix": "70:B3:D5", "vendorName": "IEEE Registration Authority", "private": false, "blockType": "MA-L"},
	{"macPrefix": "12", "vendorName": "too short", "private": false, "blockType": "MA-L"}
]`

func TestLookup(t *testing.T) {
	db := NewDB()
	if err := db.Load([]byte(testDB)); err != nil {
		t.Fatal(err)
	}
	if db.Count() != 4 {
		t.Errorf("Count = %d, want 4", db.Count())
	}

	tests := []struct {
		mac  string
		want string
	}{
		{"00:00:0c:12:34:56", "Cisco Systems, Inc"},
		{"00:1a:2b:3c:4d:5e", "Ayecom Technology Co., Ltd."},
		{"70:b3:d5:1f:e0:01", "Small Block Ltd"},
		{"70:b3:d5:20:00:01", "IEEE Registration Authority"},
		{"ff:ff:ff:00:00:00", ""},
	}
	for _, tt := range tests {
		mac, err := net.ParseMAC(tt.mac)
		if err != nil {
			t.Fatal(err)
		}
		if got := db.Lookup(mac); got != tt.want {
			t.Errorf("Lookup(%s) = %q, want %q", tt.mac, got, tt.want)
		}
	}

	if got := db.Lookup(net.HardwareAddr{0x00, 0x00}); got != "" {
		t.Errorf("short address matched %q", got)
	}
}

func TestNilDB(t *testing.T) {
	var db *DB
	if db.Lookup(net.HardwareAddr{0, 0, 0x0c, 1, 2, 3}) != "" || db.Count() != 0 {
		t.Error("nil DB should know no vendors")
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macdb.json")
	if err := os.WriteFile(path, []byte(testDB), 0o644); err != nil {
		t.Fatal(err)
	}
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if db.Count() != 4 {
		t.Errorf("Count = %d, want 4", db.Count())
	}

	if _, err := Open(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
