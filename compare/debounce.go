package compare

import (
	"sync"
	"time"
)

// Debouncer 只在输入静止 window 之后发布最后一个值
type Debouncer[T any] struct {
	window  time.Duration
	publish func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	value   T
}

func NewDebouncer[T any](window time.Duration, publish func(T)) *Debouncer[T] {
	return &Debouncer[T]{window: window, publish: publish}
}

func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.value = v
	d.pending = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

// Flush 立即发布待发布的值
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	d.fire()
}

// Stop 丢弃待发布的值
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

func (d *Debouncer[T]) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.mu.Unlock()

	d.publish(v)
}
