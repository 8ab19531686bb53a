package engine

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/switchcraft/switchcraft/pkg/util"
)

// LockManager provides the per-device concurrency model: an exclusive
// writer lock held for the full duration of any mutating operation, and
// a bounded pool of reader slots (1 for telnet, which cannot multiplex;
// higher for SSH exec). Scheduling is FIFO per device via the semaphore;
// devices are independent.
type LockManager struct {
	mu      sync.Mutex
	writers map[string]*semaphore.Weighted
	readers map[string]*semaphore.Weighted
	slots   map[string]int64
}

// NewLockManager creates an empty manager.
func NewLockManager() *LockManager {
	return &LockManager{
		writers: make(map[string]*semaphore.Weighted),
		readers: make(map[string]*semaphore.Weighted),
		slots:   make(map[string]int64),
	}
}

// SetReadSlots configures the reader concurrency for a device. Must be
// called before the first acquire for the device; later calls are
// ignored.
func (lm *LockManager) SetReadSlots(deviceID string, n int64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if _, exists := lm.readers[deviceID]; !exists {
		lm.slots[deviceID] = n
	}
}

func (lm *LockManager) writer(deviceID string) *semaphore.Weighted {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	w, ok := lm.writers[deviceID]
	if !ok {
		w = semaphore.NewWeighted(1)
		lm.writers[deviceID] = w
	}
	return w
}

func (lm *LockManager) reader(deviceID string) *semaphore.Weighted {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	r, ok := lm.readers[deviceID]
	if !ok {
		n := lm.slots[deviceID]
		if n <= 0 {
			n = 1
		}
		r = semaphore.NewWeighted(n)
		lm.readers[deviceID] = r
	}
	return r
}

// AcquireWriter takes the exclusive writer lock. Waiting is bounded by
// the context; expiry surfaces as a conflict.
func (lm *LockManager) AcquireWriter(ctx context.Context, deviceID string) (func(), error) {
	w := lm.writer(deviceID)
	if err := w.Acquire(ctx, 1); err != nil {
		return nil, &util.CommandError{
			Kind: util.KindConflict, Device: deviceID,
			Message: "another writer holds the device lock past deadline",
		}
	}
	return func() { w.Release(1) }, nil
}

// AcquireReader takes one shared read slot.
func (lm *LockManager) AcquireReader(ctx context.Context, deviceID string) (func(), error) {
	r := lm.reader(deviceID)
	if err := r.Acquire(ctx, 1); err != nil {
		return nil, &util.CommandError{
			Kind: util.KindConflict, Device: deviceID,
			Message: "no read slot available before deadline",
		}
	}
	return func() { r.Release(1) }, nil
}
