package account

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RecordTTL is the fixed lifetime of per-entity records.
const RecordTTL = 5 * time.Minute

// Record is a cached per-entity value.
type Record[T any] struct {
	Data     T
	StoredAt time.Time
	OwnerID  string
	Key      string
}

// Valid reports whether the record may be served to owner for key at now.
func (r Record[T]) Valid(owner, key string, now time.Time) bool {
	if r.OwnerID == "" || r.OwnerID != owner {
		return false
	}
	if r.Key != key {
		return false
	}
	return now.Sub(r.StoredAt) < RecordTTL
}

// RecordCache holds one record per slot, scoped to an owner and a secondary
// key.
type RecordCache[T any] struct {
	mu      sync.Mutex
	records map[string]Record[T]
	now     func() time.Time
}

// NewRecordCache creates an empty record cache.
func NewRecordCache[T any]() *RecordCache[T] {
	return &RecordCache[T]{
		records: make(map[string]Record[T]),
		now:     time.Now,
	}
}

// Get returns the data in slot if the record is valid for owner and key.
// Invalid records are dropped.
func (c *RecordCache[T]) Get(slot, owner, key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	record, ok := c.records[slot]
	if !ok {
		return zero, false
	}
	if !record.Valid(owner, key, c.now()) {
		delete(c.records, slot)
		return zero, false
	}
	return record.Data, true
}

// Set replaces the record in slot.
func (c *RecordCache[T]) Set(slot, owner, key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records[slot] = Record[T]{
		Data:     data,
		StoredAt: c.now(),
		OwnerID:  owner,
		Key:      key,
	}
}

// Delete removes slot.
func (c *RecordCache[T]) Delete(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, slot)
}

// InvalidateOwner removes every record owned by owner and returns how many
// were removed.
func (c *RecordCache[T]) InvalidateOwner(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for slot, record := range c.records {
		if record.OwnerID == owner {
			delete(c.records, slot)
			removed++
		}
	}
	return removed
}

// Clear removes every record.
func (c *RecordCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]Record[T])
}

// Len returns the number of stored records, valid or not.
func (c *RecordCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// SetClock overrides the time source (for testing).
func (c *RecordCache[T]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// EligibilityKey is the secondary key of an eligibility record: the sorted
// card ids, the sorted SKUs and the total amount.
func EligibilityKey(cardIDs, skus []string, total float64) string {
	cards := append([]string(nil), cardIDs...)
	sort.Strings(cards)
	items := append([]string(nil), skus...)
	sort.Strings(items)

	return "cards=" + strings.Join(cards, ",") +
		"|skus=" + strings.Join(items, ",") +
		"|total=" + strconv.FormatFloat(total, 'f', 2, 64)
}
