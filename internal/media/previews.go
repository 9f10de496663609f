package media

import (
	"sync"

	"github.com/google/uuid"
)

// Preview is a locally held file shown before upload.
type Preview struct {
	Handle string // unique per Set
	Name   string
	Data   []byte
}

// Previews tracks at most one preview per slot. Replacing or releasing a
// slot releases the previous preview; Close releases all of them.
type Previews struct {
	mu        sync.Mutex
	slots     map[string]*Preview
	onRelease func(Preview)
	closed    bool
}

// NewPreviews returns an empty set. onRelease, if non-nil, runs once for
// every preview released, outside the lock.
func NewPreviews(onRelease func(Preview)) *Previews {
	return &Previews{slots: make(map[string]*Preview), onRelease: onRelease}
}

// Set installs data as the preview for slot and returns it. The data is
// copied. After Close, Set returns the preview without retaining it.
func (p *Previews) Set(slot, name string, data []byte) Preview {
	next := &Preview{Handle: uuid.NewString(), Name: name, Data: append([]byte(nil), data...)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return *next
	}
	prev := p.slots[slot]
	p.slots[slot] = next
	p.mu.Unlock()

	p.release(prev)
	return *next
}

// Get returns the current preview for slot.
func (p *Previews) Get(slot string) (Preview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pv, ok := p.slots[slot]; ok {
		return *pv, true
	}
	return Preview{}, false
}

// Release drops the preview in slot, reporting whether there was one.
func (p *Previews) Release(slot string) bool {
	p.mu.Lock()
	prev, ok := p.slots[slot]
	delete(p.slots, slot)
	p.mu.Unlock()

	p.release(prev)
	return ok
}

// Len is the number of live previews.
func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// Close releases every preview. Idempotent.
func (p *Previews) Close() {
	p.mu.Lock()
	all := p.slots
	p.slots = make(map[string]*Preview)
	p.closed = true
	p.mu.Unlock()

	for _, pv := range all {
		p.release(pv)
	}
}

func (p *Previews) release(pv *Preview) {
	if pv == nil {
		return
	}
	if p.onRelease != nil {
		p.onRelease(*pv)
	}
	pv.Data = nil
}
