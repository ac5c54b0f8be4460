package addrmgr

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultCapacity is the maximum amount of addresses Recent will hold
// unless configured otherwise.
const DefaultCapacity = 4096

// Recent tracks addresses of peers that disconnected cleanly with a clean
// misbehavior record. The address book prefers these when picking outbound
// connections, so keeping them bounded and fresh matters more than keeping
// all of them.
type Recent struct {
	cache   *lru.Cache
	timeNow func() time.Time
}

// NewRecent returns a Recent tracker holding up to capacity addresses,
// DefaultCapacity when capacity is not positive.
func NewRecent(capacity int) *Recent {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		// lru.New only fails on non-positive sizes.
		panic(err)
	}
	return &Recent{
		cache:   cache,
		timeNow: time.Now,
	}
}

// RecordConnected stores the address with the current time as its
// last-seen mark, evicting the least recently recorded address when full.
func (r *Recent) RecordConnected(addr string) {
	r.cache.Add(addr, r.timeNow())
}

// LastSeen returns when the address was last recorded.
func (r *Recent) LastSeen(addr string) (time.Time, bool) {
	v, ok := r.cache.Peek(addr)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// Len returns the number of addresses currently tracked.
func (r *Recent) Len() int {
	return r.cache.Len()
}
