package attachment

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/parlorhq/parlor/internal/storage"
)

// State is the lifecycle state of a pending attachment.
type State string

const (
	StateSelected     State = "selected"
	StateValidated    State = "validated"
	StatePreviewReady State = "preview_ready"
	StateUploading    State = "uploading"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
	StateReleased     State = "released"
)

// Snapshot is a point-in-time view of the pending attachment.
type Snapshot struct {
	ID         string
	Meta       FileMeta
	State      State
	Progress   int
	PreviewURL string
	Remote     *storage.UploadResult
	Err        error
}

// pending is the single in-flight attachment tracked by the controller.
type pending struct {
	id       string
	meta     FileMeta
	data     []byte
	state    State
	progress int
	handle   *Handle
	remote   *storage.UploadResult
	lastErr  error
}

// Controller owns the lifecycle of at most one pending attachment per draft:
// validation, ephemeral preview handle, upload progress, and guaranteed
// release. The handle table is exclusively owned here; no other component
// allocates or releases handles.
type Controller struct {
	mu       sync.Mutex
	logger   *slog.Logger
	uploader storage.Uploader
	handles  *HandleTable
	current  *pending

	onProgress func(id string, percent int)
	onState    func(id string, state State)
}

// NewController creates an attachment controller over the given handle table
// and storage collaborator.
func NewController(log *slog.Logger, uploader storage.Uploader, handles *HandleTable) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if handles == nil {
		handles = NewHandleTable("")
	}
	return &Controller{
		logger:   log.With(slog.String("service", "attachment")),
		uploader: uploader,
		handles:  handles,
	}
}

// OnProgress installs the upload progress subscriber. Values are strictly
// increasing per upload attempt. The callback must not call back into the
// controller.
func (c *Controller) OnProgress(fn func(id string, percent int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onProgress = fn
}

// OnState installs the lifecycle state subscriber. The callback must not call
// back into the controller.
func (c *Controller) OnState(fn func(id string, state State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// Handles exposes the handle table for read-only consumers (preview server).
func (c *Controller) Handles() *HandleTable { return c.handles }

// Select adopts a new candidate file. Any previously tracked attachment is
// released first. On validation failure the candidate lands in Failed with no
// handle allocated; otherwise it moves through Validated to PreviewReady with
// a live preview handle.
func (c *Controller) Select(meta FileMeta, data []byte) (Snapshot, error) {
	c.mu.Lock()
	c.releaseCurrentLocked()

	p := &pending{
		id:    uuid.NewString(),
		meta:  meta,
		data:  data,
		state: StateSelected,
	}
	c.current = p
	c.emitStateLocked(p)

	if err := Validate(meta); err != nil {
		p.state = StateFailed
		p.lastErr = err
		if p.handle != nil {
			p.handle.Release()
			p.handle = nil
		}
		c.emitStateLocked(p)
		snap := c.snapshotLocked(p)
		c.mu.Unlock()
		return snap, err
	}

	p.state = StateValidated
	c.emitStateLocked(p)

	p.handle = c.handles.Allocate(meta.Name, meta.Mime, data)
	p.state = StatePreviewReady
	c.emitStateLocked(p)

	snap := c.snapshotLocked(p)
	c.mu.Unlock()
	return snap, nil
}

// Upload sends the pending attachment to the storage collaborator. It is
// valid from PreviewReady and from a Failed upload attempt (the preview
// handle survives upload failure so the user can retry without re-selecting).
// Progress resets to 0 at the start of every attempt. If the attachment is
// removed while the upload is in flight, the late result is discarded and
// ErrNoPending is returned.
func (c *Controller) Upload(ctx context.Context, destinationFolder string) (Snapshot, error) {
	c.mu.Lock()
	p := c.current
	if p == nil {
		c.mu.Unlock()
		return Snapshot{}, ErrNoPending
	}
	if p.state != StatePreviewReady && !(p.state == StateFailed && p.handle != nil) {
		snap := c.snapshotLocked(p)
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: state %s", ErrNotReady, snap.State)
	}
	id := p.id
	meta := p.meta
	reader := bytes.NewReader(p.data)
	size := int64(len(p.data))
	p.lastErr = nil
	p.progress = 0
	p.state = StateUploading
	c.emitStateLocked(p)
	c.mu.Unlock()

	result, err := c.uploader.Upload(ctx, meta.Name, meta.Mime, reader, size, destinationFolder, func(percent int) {
		c.reportProgress(id, percent)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.id != id {
		// Removed mid-upload: resources are already released, the result
		// is discarded. A successful upload leaves an orphaned remote
		// object; surface it in the log rather than lose the reference.
		if err == nil {
			c.logger.Warn("upload completed after removal; remote object orphaned",
				slog.String("attachment_id", id),
				slog.String("url", result.URL))
		}
		return Snapshot{}, ErrNoPending
	}
	if err != nil {
		p.state = StateFailed
		p.lastErr = err
		c.emitStateLocked(p)
		return c.snapshotLocked(p), err
	}
	p.remote = &result
	if p.progress < 100 {
		p.progress = 100
	}
	p.state = StateComplete
	c.emitStateLocked(p)
	return c.snapshotLocked(p), nil
}

// Remove releases the pending attachment and its handle. Safe to call in any
// state and at any time, including mid-upload; repeated calls are no-ops.
func (c *Controller) Remove() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseCurrentLocked()
}

// Detach completes a successful send: it releases the preview handle and
// stops tracking the attachment, returning the persisted remote reference.
func (c *Controller) Detach() (storage.UploadResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.current
	if p == nil {
		return storage.UploadResult{}, ErrNoPending
	}
	if p.state != StateComplete || p.remote == nil {
		return storage.UploadResult{}, fmt.Errorf("%w: state %s", ErrNotReady, p.state)
	}
	remote := *p.remote
	c.releaseCurrentLocked()
	return remote, nil
}

// Snapshot returns the current pending attachment, if any.
func (c *Controller) Snapshot() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Snapshot{}, false
	}
	return c.snapshotLocked(c.current), true
}

// Close releases any tracked attachment. Called on owner teardown.
func (c *Controller) Close() {
	c.Remove()
}

func (c *Controller) releaseCurrentLocked() {
	p := c.current
	if p == nil {
		return
	}
	if p.handle != nil {
		p.handle.Release()
		p.handle = nil
	}
	p.state = StateReleased
	c.emitStateLocked(p)
	c.current = nil
}

func (c *Controller) reportProgress(id string, percent int) {
	c.mu.Lock()
	p := c.current
	if p == nil || p.id != id || p.state != StateUploading || percent <= p.progress {
		c.mu.Unlock()
		return
	}
	p.progress = percent
	fn := c.onProgress
	c.mu.Unlock()
	if fn != nil {
		fn(id, percent)
	}
}

func (c *Controller) emitStateLocked(p *pending) {
	if c.onState != nil {
		c.onState(p.id, p.state)
	}
}

func (c *Controller) snapshotLocked(p *pending) Snapshot {
	snap := Snapshot{
		ID:       p.id,
		Meta:     p.meta,
		State:    p.state,
		Progress: p.progress,
		Err:      p.lastErr,
	}
	if p.handle != nil {
		snap.PreviewURL = p.handle.URL()
	}
	if p.remote != nil {
		remote := *p.remote
		snap.Remote = &remote
	}
	return snap
}
