package attachment

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handle is an ephemeral local object reference: in-memory bytes made
// addressable for preview before (or independent of) remote storage.
// A handle is released exactly once; further releases are no-ops.
type Handle struct {
	id   string
	mime string
	name string
	data []byte

	mu       sync.Mutex
	released bool
	table    *HandleTable
}

// ID returns the handle's locally-unique identifier.
func (h *Handle) ID() string { return h.id }

// Mime returns the declared MIME type of the bytes.
func (h *Handle) Mime() string { return h.mime }

// Name returns the original file name, if any.
func (h *Handle) Name() string { return h.name }

// Bytes returns the in-memory payload. Nil after release.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	return h.data
}

// URL returns the locally-addressable preview URL for the handle.
func (h *Handle) URL() string {
	base := ""
	if h.table != nil {
		base = h.table.baseURL()
	}
	return base + "/preview/" + h.id
}

// Release drops the payload and unregisters the handle. Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.data = nil
	table := h.table
	h.mu.Unlock()
	if table != nil {
		table.remove(h.id)
	}
}

// Released reports whether the handle has been released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// HandleTable owns every live ephemeral handle. Only the attachment
// controller allocates into it; everything else reads.
type HandleTable struct {
	mu    sync.Mutex
	base  string
	items map[string]*Handle
}

// NewHandleTable creates an empty table. baseURL prefixes the preview URLs
// handed to the UI (e.g. the loopback preview server origin).
func NewHandleTable(baseURL string) *HandleTable {
	return &HandleTable{
		base:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		items: make(map[string]*Handle),
	}
}

// SetBase replaces the preview URL prefix. Called once the loopback preview
// server knows its bound address; handles allocated afterwards pick it up.
func (t *HandleTable) SetBase(baseURL string) {
	t.mu.Lock()
	t.base = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	t.mu.Unlock()
}

// Allocate registers a new handle over the payload.
func (t *HandleTable) Allocate(name, mime string, data []byte) *Handle {
	handle := &Handle{
		id:    uuid.NewString(),
		mime:  mime,
		name:  name,
		data:  data,
		table: t,
	}
	t.mu.Lock()
	t.items[handle.id] = handle
	t.mu.Unlock()
	return handle
}

// Get returns the live handle for id.
func (t *HandleTable) Get(id string) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	handle, ok := t.items[id]
	return handle, ok
}

// Len returns the number of live handles.
func (t *HandleTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}

func (t *HandleTable) baseURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.base
}

func (t *HandleTable) remove(id string) {
	t.mu.Lock()
	delete(t.items, id)
	t.mu.Unlock()
}
