package check

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// ValueID references a formatted value in a Values registry. Zero means no reference.
type ValueID uint64

func (id ValueID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseValueID parses the decimal form produced by String.
func ParseValueID(s string) (ValueID, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return ValueID(n), true
}

// IDs are unique for the whole process, not only per registry, so a stale ID from
// an older result can never resolve to a value of a newer one.
var lastValueID atomic.Uint64

// Values is the Value Registry of one Result: large values of a trace are stored
// once and fetched on demand. Entries are immutable once stored.
type Values struct {
	mu       sync.RWMutex
	entries  map[ValueID]string
	byText   map[string]ValueID
	released bool
}

// NewValues creates an empty registry.
func NewValues() *Values {
	return &Values{entries: make(map[ValueID]string), byText: make(map[string]ValueID)}
}

// Store records a formatted value and returns its identifier. Storing the same
// text again returns the identifier it already has.
func (v *Values) Store(text string) ValueID {
	v.mu.Lock()
	defer v.mu.Unlock()
	if id, ok := v.byText[text]; ok {
		return id
	}
	id := ValueID(lastValueID.Add(1))
	if !v.released {
		v.entries[id] = text
		v.byText[text] = id
	}
	return id
}

// Resolve returns the formatted value. Unknown IDs and lookups after Release
// report false.
func (v *Values) Resolve(id ValueID) (string, bool) {
	if v == nil {
		return "", false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	text, ok := v.entries[id]
	return text, ok
}

// Len returns the number of stored values.
func (v *Values) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Release drops all values. It is called when the owning Result is discarded.
func (v *Values) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.released = true
	v.entries = nil
	v.byText = nil
}
