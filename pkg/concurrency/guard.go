package concurrency

import (
	"errors"
	"sync"
)

var ErrBusy = errors.New("system is busy")

// ConcurrencyGuard admits one task at a time and rejects the rest with ErrBusy.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

// TryAcquire marks the guard busy. It returns false if it already was.
func (g *ConcurrencyGuard) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.isBusy {
		return false
	}
	g.isBusy = true
	return true
}

// Release marks the guard free again.
func (g *ConcurrencyGuard) Release() {
	g.mu.Lock()
	g.isBusy = false
	g.mu.Unlock()
}

// IsBusy reports whether a task currently holds the guard.
func (g *ConcurrencyGuard) IsBusy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isBusy
}

// Execute runs task while holding the guard.
func (g *ConcurrencyGuard) Execute(task func() error) error {
	if !g.TryAcquire() {
		return ErrBusy
	}
	defer g.Release()
	return task()
}
