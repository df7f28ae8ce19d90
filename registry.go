package dualarm

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// SharedLink bundles one serial protocol with the servo state and drain
// pump behind it. Both arms of a workspace ride the same controller board,
// so the registry hands out the same SharedLink to every caller that names
// the same port.
type SharedLink struct {
	Protocol *ActuationProtocol
	State    *ServoState
}

type linkEntry struct {
	link      *SharedLink
	refCount  int64
	lastError error
	mu        sync.Mutex
}

// LinkRegistry refcounts serial links by port path. The link is opened on
// first acquisition and closed when the last holder releases it. A failed
// open is cached so repeated acquisitions of a dead port fail fast instead
// of re-handshaking every time.
type LinkRegistry struct {
	logger  logging.Logger
	mu      sync.RWMutex
	entries map[string]*linkEntry
}

func NewLinkRegistry(logger logging.Logger) *LinkRegistry {
	return &LinkRegistry{
		logger:  logger,
		entries: make(map[string]*linkEntry),
	}
}

// Acquire returns the shared link for portPath, connecting it if this is
// the first holder.
func (r *LinkRegistry) Acquire(portPath string) (*SharedLink, error) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if exists {
		return r.acquireExisting(entry, portPath)
	}
	return r.connectNew(portPath)
}

func (r *LinkRegistry) acquireExisting(entry *linkEntry, portPath string) (*SharedLink, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.link == nil {
		if entry.lastError != nil {
			return nil, errors.Wrapf(entry.lastError, "cached connection error for %s", portPath)
		}
		return nil, errors.Errorf("link not available for port %s", portPath)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.link, nil
}

func (r *LinkRegistry) connectNew(portPath string) (*SharedLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the write lock in case another caller won the race.
	if entry, exists := r.entries[portPath]; exists {
		return r.acquireExisting(entry, portPath)
	}

	entry := &linkEntry{}
	proto := NewActuationProtocol(r.logger)
	if err := proto.Connect(portPath); err != nil {
		entry.lastError = err
		r.entries[portPath] = entry
		return nil, err
	}

	entry.link = &SharedLink{
		Protocol: proto,
		State:    NewServoState(),
	}
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[portPath] = entry

	if r.logger != nil {
		r.logger.Infof("opened shared servo link on %s", portPath)
	}
	return entry.link, nil
}

// Release drops one reference to the port's link, disconnecting when the
// count reaches zero. Releasing an unknown port is a no-op, and so is
// releasing a port whose connect failed: cached-error entries never
// handed out a reference. Lock order is registry then entry, the same as
// acquisition.
func (r *LinkRegistry) Release(portPath string) {
	r.mu.Lock()
	entry, exists := r.entries[portPath]
	if !exists {
		r.mu.Unlock()
		return
	}

	entry.mu.Lock()
	if entry.link == nil {
		entry.mu.Unlock()
		r.mu.Unlock()
		return
	}
	if atomic.AddInt64(&entry.refCount, -1) > 0 {
		entry.mu.Unlock()
		r.mu.Unlock()
		return
	}

	delete(r.entries, portPath)
	r.mu.Unlock()

	link := entry.link
	entry.link = nil
	atomic.StoreInt64(&entry.refCount, 0)
	entry.lastError = nil
	entry.mu.Unlock()

	if err := link.Protocol.Disconnect(); err != nil && r.logger != nil {
		r.logger.Warnf("error closing shared link for port %s: %v", portPath, err)
	}
}

// ForceClose tears down the port's link regardless of reference count.
func (r *LinkRegistry) ForceClose(portPath string) error {
	r.mu.Lock()
	entry, exists := r.entries[portPath]
	if exists {
		delete(r.entries, portPath)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.link != nil {
		err = entry.link.Protocol.Disconnect()
		entry.link = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}
	return err
}

// Status reports the reference count and connection state for a port.
func (r *LinkRegistry) Status(portPath string) (refCount int64, connected bool) {
	r.mu.RLock()
	entry, exists := r.entries[portPath]
	r.mu.RUnlock()

	if !exists {
		return 0, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return atomic.LoadInt64(&entry.refCount), entry.link != nil && entry.link.Protocol.Connected()
}
