package monitor

import (
	"log/slog"
	"sync"

	"github.com/sebas/callmanager/internal/telecom/call"
)

// WakeLock keeps the platform awake while held
type WakeLock interface {
	Acquire()
	Release()
	IsHeld() bool
}

// WakeLockController holds the wake lock while any call is ringing
type WakeLockController struct {
	calls Calls
	lock  WakeLock
}

// NewWakeLockController creates a controller for lock
func NewWakeLockController(calls Calls, lock WakeLock) *WakeLockController {
	if lock == nil {
		lock = &MemoryWakeLock{}
	}
	return &WakeLockController{calls: calls, lock: lock}
}

// OnEvent implements call.Listener
func (w *WakeLockController) OnEvent(_ *call.Call, ev call.Event) {
	switch ev.(type) {
	case call.CallAdded, call.CallRemoved, call.StateChanged:
		w.update()
	}
}

func (w *WakeLockController) update() {
	if w.calls.HasRingingCall() {
		if !w.lock.IsHeld() {
			slog.Info("[WakeLock] Acquiring wake lock")
			w.lock.Acquire()
		}
		return
	}
	if w.lock.IsHeld() {
		slog.Info("[WakeLock] Releasing wake lock")
		w.lock.Release()
	}
}

// MemoryWakeLock is a wake lock with no platform behind it. It records
// whether it is held and how often it was taken.
type MemoryWakeLock struct {
	mu       sync.Mutex
	held     bool
	acquired int
}

func (l *MemoryWakeLock) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held {
		l.acquired++
	}
	l.held = true
}

func (l *MemoryWakeLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
}

func (l *MemoryWakeLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Acquisitions returns how many times the lock went from released to held
func (l *MemoryWakeLock) Acquisitions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired
}
