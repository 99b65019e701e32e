// tools/leakdetector/detector.go
package leakdetector

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/sammcj/toolbridge", "leakdetector")

// Detector tracks in-flight tool invocations and reports the ones that run too long
type Detector struct {
	mu        sync.Mutex
	routines  map[uint64]routine
	seq       atomic.Uint64
	threshold time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

type routine struct {
	label   string
	stack   string
	created time.Time
}

// Stuck describes an invocation older than the threshold
type Stuck struct {
	ID    uint64
	Label string
	Age   time.Duration
	Stack string
}

// New creates a detector checking every checkInterval for invocations older than threshold
func New(checkInterval, threshold time.Duration) *Detector {
	d := &Detector{
		routines:  make(map[uint64]routine),
		threshold: threshold,
		done:      make(chan struct{}),
	}

	if checkInterval > 0 {
		go d.monitor(checkInterval)
	}
	return d
}

// Track starts tracking an invocation
func (d *Detector) Track(label string) uint64 {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)

	id := d.seq.Add(1)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.routines[id] = routine{
		label:   label,
		stack:   string(stack[:n]),
		created: time.Now(),
	}

	return id
}

// Done marks an invocation as completed
func (d *Detector) Done(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routines, id)
}

// InFlight returns the number of tracked invocations
func (d *Detector) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.routines)
}

// monitor periodically checks for potential leaks
func (d *Detector) monitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, s := range d.Check(time.Now()) {
				logger.KV(xlog.WARNING,
					"reason", "long_running_tool",
					"id", s.ID,
					"tool", s.Label,
					"age", s.Age.String(),
					"stack", s.Stack)
			}
		case <-d.done:
			return
		}
	}
}

// Check returns the invocations older than the threshold at now, oldest first
func (d *Detector) Check(now time.Time) []Stuck {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stuck []Stuck
	for id, r := range d.routines {
		if age := now.Sub(r.created); age > d.threshold {
			stuck = append(stuck, Stuck{ID: id, Label: r.label, Age: age, Stack: r.stack})
		}
	}
	sort.Slice(stuck, func(i, j int) bool {
		if stuck[i].Age == stuck[j].Age {
			return stuck[i].ID < stuck[j].ID
		}
		return stuck[i].Age > stuck[j].Age
	})
	return stuck
}

// Close stops the detector. It is safe to call more than once.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	return nil
}
