// Package journal keeps an append-only record of handled callouts in
// BoltDB. Records are keyed by a big-endian sequence so a cursor walks them
// in arrival order.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/athena-dhcpd/dhcp-callout/internal/events"
	"github.com/athena-dhcpd/dhcp-callout/internal/metrics"
)

// BoltDB bucket names.
var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
)

var keyPruned = []byte("pruned_total")

// Record is one journaled callout.
type Record struct {
	Seq       uint64           `json:"seq"`
	Time      time.Time        `json:"time"`
	Event     string           `json:"event"`
	Side      string           `json:"side"`
	Hook      string           `json:"hook"`
	MAC       net.HardwareAddr `json:"mac,omitempty"`
	IP        net.IP           `json:"ip,omitempty"`
	AltIP     net.IP           `json:"alt_ip,omitempty"`
	LeaseTime uint32           `json:"lease_time,omitempty"`
	Control   string           `json:"control"`
	Policy    string           `json:"policy,omitempty"`
	Hostname  string           `json:"hostname,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

// RecordFromEvent flattens a bus event into a record. Events without
// callout data still produce a record carrying the type and reason.
func RecordFromEvent(evt events.Event) Record {
	r := Record{
		Time:   evt.Timestamp,
		Event:  string(evt.Type),
		Reason: evt.Reason,
	}
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	if c := evt.Callout; c != nil {
		r.Side = c.Side
		r.Hook = c.Hook
		r.MAC = c.MAC
		r.IP = c.IP
		r.AltIP = c.AltIP
		r.LeaseTime = c.LeaseTime
		r.Control = c.Control
		r.Policy = c.Policy
		r.Hostname = c.Hostname
	}
	return r
}

// Journal is the BoltDB-backed callout journal.
type Journal struct {
	db     *bolt.DB
	logger *slog.Logger
	mu     sync.Mutex // serializes Append sequence assignment with Prune
	count  int
}

// Open opens or creates the journal database at path.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening journal database %s: %w", path, err)
	}

	var count int
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		count = tx.Bucket(bucketRecords).Stats().KeyN
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing journal buckets: %w", err)
	}

	metrics.JournalRecords.Set(float64(count))
	return &Journal{
		db:     db,
		logger: logger.With("component", "journal"),
		count:  count,
	}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

// Append stores r under the next sequence number and returns it.
func (j *Journal) Append(r Record) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating journal sequence: %w", err)
		}
		r.Seq = seq
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshalling journal record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		metrics.JournalErrors.Inc()
		return 0, err
	}

	j.count++
	metrics.JournalRecords.Set(float64(j.count))
	return r.Seq, nil
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]Record, 0, min(n, 64))
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshalling journal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, r)
		}
		return nil
	})
	return out, err
}

// Count returns the number of records held.
func (j *Journal) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

// Prune deletes records older than before and returns how many went.
func (j *Journal) Prune(before time.Time) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var removed int
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		// Sequence order is arrival order, so stop at the first record
		// that is new enough.
		var stale [][]byte
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshalling journal record: %w", err)
			}
			if !r.Time.Before(before) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("deleting journal record %d: %w", binary.BigEndian.Uint64(k), err)
			}
		}
		removed = len(stale)

		meta := tx.Bucket(bucketMeta)
		var total uint64
		if v := meta.Get(keyPruned); len(v) == 8 {
			total = binary.BigEndian.Uint64(v)
		}
		return meta.Put(keyPruned, seqKey(total+uint64(removed)))
	})
	if err != nil {
		return 0, err
	}

	j.count -= removed
	metrics.JournalRecords.Set(float64(j.count))
	return removed, nil
}

// Pruned returns the total number of records ever pruned.
func (j *Journal) Pruned() (uint64, error) {
	var total uint64
	err := j.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyPruned); len(v) == 8 {
			total = binary.BigEndian.Uint64(v)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading prune total: %w", err)
	}
	return total, nil
}

// Subscribe journals every event from ch until it is closed. Call in a
// goroutine; writes happen off the callout path.
func (j *Journal) Subscribe(ch <-chan events.Event) {
	for evt := range ch {
		if _, err := j.Append(RecordFromEvent(evt)); err != nil {
			j.logger.Error("journaling callout event",
				"event_type", string(evt.Type),
				"error", err)
		}
	}
}

// Follow runs Subscribe in its own goroutine. The returned channel is closed
// once ch is closed and every event still buffered in it has been written,
// so the journal can be closed safely after that.
func (j *Journal) Follow(ch <-chan events.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Subscribe(ch)
	}()
	return done
}

// RunRetention prunes records older than retention every interval until
// done is closed.
func (j *Journal) RunRetention(retention, interval time.Duration, done <-chan struct{}) {
	if retention <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := j.Prune(time.Now().Add(-retention))
			if err != nil {
				j.logger.Error("pruning journal", "error", err)
				continue
			}
			if n > 0 {
				j.logger.Info("pruned journal", "removed", n, "retention", retention.String())
			}
		case <-done:
			return
		}
	}
}
