// Package compare implements the before/after split overlay state.
package compare

import (
	"math"
	"sync"
	"time"
)

const (
	DefaultSplit  = 100.0
	DefaultWindow = 200 * time.Millisecond
)

type State struct {
	Active       bool
	SplitPercent float64
}

// Controller 分割线状态。拖动中的原始值直接用于显示分割线，
// 经过防抖的值才会触发重新合成。
type Controller struct {
	debounce *Debouncer[float64]

	mu       sync.Mutex
	active   bool
	dragging bool
	raw      float64
	settled  float64
	onSettle func(State)
}

func NewController(window time.Duration) *Controller {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Controller{raw: DefaultSplit, settled: DefaultSplit}
	c.debounce = NewDebouncer(window, c.publish)
	return c
}

// OnSettle 注册回调，防抖后的状态变化时在锁外调用
func (c *Controller) OnSettle(fn func(State)) {
	c.mu.Lock()
	c.onSettle = fn
	c.mu.Unlock()
}

// Begin 开始拖动；未开启对比时忽略
func (c *Controller) Begin(percent float64) bool {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return false
	}
	c.dragging = true
	c.mu.Unlock()
	return c.UpdateDrag(percent)
}

func (c *Controller) UpdateDrag(percent float64) bool {
	if math.IsNaN(percent) {
		return false
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return false
	}
	c.raw = Clamp(percent)
	v := c.raw
	c.mu.Unlock()

	c.debounce.Trigger(v)
	return true
}

// End 结束拖动，立即发布最后的位置
func (c *Controller) End() {
	c.mu.Lock()
	c.dragging = false
	c.mu.Unlock()
	c.debounce.Flush()
}

// Toggle 切换对比开关，分割位置保持不变
func (c *Controller) Toggle() State {
	c.debounce.Stop()

	c.mu.Lock()
	c.active = !c.active
	c.dragging = false
	c.settled = c.raw
	st := State{Active: c.active, SplitPercent: c.settled}
	fn := c.onSettle
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
	return st
}

// Display 分割线显示用的实时状态
func (c *Controller) Display() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Active: c.active, SplitPercent: c.raw}
}

// Settled 合成使用的防抖后状态
func (c *Controller) Settled() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Active: c.active, SplitPercent: c.settled}
}

func (c *Controller) Dragging() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dragging
}

// Close 停止待发布的防抖计时
func (c *Controller) Close() {
	c.debounce.Stop()
}

func (c *Controller) publish(v float64) {
	c.mu.Lock()
	changed := c.settled != v
	c.settled = v
	st := State{Active: c.active, SplitPercent: v}
	fn := c.onSettle
	c.mu.Unlock()

	if changed && fn != nil {
		fn(st)
	}
}

// Clamp 限制在 [0,100]
func Clamp(percent float64) float64 {
	return math.Max(0, math.Min(100, percent))
}
