// Package cache implements the per-destination retransmit cache: an
// unacked-payload store split into "not yet sent" and "sent, awaiting ack"
// buckets per destination address, with ack-driven and timeout-driven
// eviction.
package cache

import (
	"sync"
	"time"

	"bomberdude/internal/wire"
)

// Entry pairs a payload with the time it was enqueued or last (re)sent.
type Entry struct {
	Dest    string
	Payload *wire.Payload
	At      time.Time
}

// entry is the cache's internal bookkeeping record.
type entry struct {
	payload *wire.Payload
	at      time.Time
}

// Cache holds unacked payloads for one endpoint (a client, a lobby, or a
// gateway), keyed by destination address. All operations are atomic with
// respect to this instance.
type Cache struct {
	mu      sync.Mutex
	timeout time.Duration
	notSent map[string][]entry
	sent    map[string][]entry
}

// New creates a cache whose entries expire after timeout without an ack.
func New(timeout time.Duration) *Cache {
	return &Cache{
		timeout: timeout,
		notSent: make(map[string][]entry),
		sent:    make(map[string][]entry),
	}
}

// AddUnsent enqueues a payload not-yet-sent to dest, in insertion order.
func (c *Cache) AddUnsent(dest string, p *wire.Payload, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notSent[dest] = append(c.notSent[dest], entry{payload: p, at: now})
}

// MarkSent moves a specific unsent payload (matched by identity) for dest
// into the sent bucket, refreshing its timestamp. Used by the retransmit
// loop to re-stamp an entry it just resent.
func (c *Cache) MarkSent(dest string, p *wire.Payload, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	list := c.notSent[dest]
	for i, e := range list {
		if e.payload == p {
			c.notSent[dest] = append(list[:i], list[i+1:]...)
			c.sent[dest] = append(c.sent[dest], entry{payload: p, at: now})
			return
		}
	}

	// Already in sent (e.g. a retransmit): just refresh its timestamp.
	sentList := c.sent[dest]
	for i, e := range sentList {
		if e.payload == p {
			sentList[i].at = now
			return
		}
	}
}

// Ack removes the entry addressed to dest whose SeqNum matches seqNum from
// both buckets. A payload matches for ACK when seq_num is equal and
// destinations agree.
func (c *Cache) Ack(dest string, seqNum uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notSent[dest] = removeBySeq(c.notSent[dest], seqNum)
	c.sent[dest] = removeBySeq(c.sent[dest], seqNum)
}

func removeBySeq(list []entry, seqNum uint32) []entry {
	out := list[:0]
	for _, e := range list {
		if e.payload.SeqNum != seqNum {
			out = append(out, e)
		}
	}
	return out
}

// DrainUnsent returns every not-yet-sent payload across all destinations,
// in insertion order per destination, and moves them all into the sent
// bucket stamped with now.
func (c *Cache) DrainUnsent(now time.Time) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for dest, list := range c.notSent {
		for _, e := range list {
			out = append(out, Entry{Dest: dest, Payload: e.payload, At: e.at})
			c.sent[dest] = append(c.sent[dest], entry{payload: e.payload, at: now})
		}
		delete(c.notSent, dest)
	}
	return out
}

// PurgeExpired removes, from both buckets, every entry older than the
// cache's timeout relative to now, and returns them for an optional last
// best-effort send.
func (c *Cache) PurgeExpired(now time.Time) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var purged []Entry
	purged = purgeBucket(c.notSent, now, c.timeout, purged)
	purged = purgeBucket(c.sent, now, c.timeout, purged)
	return purged
}

func purgeBucket(buckets map[string][]entry, now time.Time, timeout time.Duration, purged []Entry) []Entry {
	for dest, list := range buckets {
		kept := list[:0]
		for _, e := range list {
			if now.Sub(e.at) > timeout {
				purged = append(purged, Entry{Dest: dest, Payload: e.payload, At: e.at})
			} else {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(buckets, dest)
		} else {
			buckets[dest] = kept
		}
	}
	return purged
}

// RetryDue returns every sent-bucket entry addressed to any destination
// whose age exceeds retryInterval but has not yet expired — candidates for
// retransmission by the outbound loop.
func (c *Cache) RetryDue(now time.Time, retryInterval time.Duration) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due []Entry
	for dest, list := range c.sent {
		for _, e := range list {
			age := now.Sub(e.at)
			if age > retryInterval && age <= c.timeout {
				due = append(due, Entry{Dest: dest, Payload: e.payload, At: e.at})
			}
		}
	}
	return due
}
