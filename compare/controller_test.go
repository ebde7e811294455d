package compare

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settleRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *settleRecorder) record(st State) {
	r.mu.Lock()
	r.states = append(r.states, st)
	r.mu.Unlock()
}

func (r *settleRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func TestController_Defaults(t *testing.T) {
	t.Parallel()

	c := NewController(0)
	defer c.Close()

	assert.Equal(t, State{Active: false, SplitPercent: DefaultSplit}, c.Settled())
	assert.Equal(t, c.Settled(), c.Display())
	assert.False(t, c.Begin(50))
	assert.False(t, c.UpdateDrag(50))
	assert.Equal(t, DefaultSplit, c.Display().SplitPercent)
}

func TestController_DebouncesDrag(t *testing.T) {
	t.Parallel()

	c := NewController(100 * time.Millisecond)
	defer c.Close()
	rec := &settleRecorder{}
	c.OnSettle(rec.record)

	st := c.Toggle()
	assert.Equal(t, State{Active: true, SplitPercent: 100}, st)
	require.Len(t, rec.all(), 1)

	require.True(t, c.Begin(10))
	assert.True(t, c.Dragging())
	for i := 0; i <= 40; i++ {
		require.True(t, c.UpdateDrag(10+float64(i)))
		// 分割线实时跟随
		assert.Equal(t, 10+float64(i), c.Display().SplitPercent)
	}
	// 防抖窗口内合成值保持不变
	assert.Equal(t, 100.0, c.Settled().SplitPercent)

	require.Eventually(t, func() bool { return c.Settled().SplitPercent == 50 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	states := rec.all()
	require.Len(t, states, 2)
	assert.Equal(t, State{Active: true, SplitPercent: 50}, states[1])
}

func TestController_EndFlushes(t *testing.T) {
	t.Parallel()

	c := NewController(time.Hour)
	defer c.Close()
	var settled atomic.Int32
	c.OnSettle(func(State) { settled.Add(1) })

	c.Toggle()
	require.True(t, c.Begin(30))
	require.True(t, c.UpdateDrag(25))
	assert.Equal(t, 100.0, c.Settled().SplitPercent)

	c.End()
	assert.False(t, c.Dragging())
	assert.Equal(t, 25.0, c.Settled().SplitPercent)
	assert.EqualValues(t, 2, settled.Load())

	// 没有待发布的值时 End 不再触发
	c.End()
	assert.EqualValues(t, 2, settled.Load())
}

func TestController_Clamp(t *testing.T) {
	t.Parallel()

	c := NewController(time.Hour)
	defer c.Close()
	c.Toggle()

	tests := []struct {
		in, want float64
	}{
		{in: -20, want: 0},
		{in: 0, want: 0},
		{in: 42.5, want: 42.5},
		{in: 100, want: 100},
		{in: 250, want: 100},
		{in: math.Inf(1), want: 100},
		{in: math.Inf(-1), want: 0},
	}
	for _, tt := range tests {
		require.True(t, c.UpdateDrag(tt.in))
		c.End()
		assert.Equal(t, tt.want, c.Settled().SplitPercent, "in=%v", tt.in)
	}

	assert.False(t, c.UpdateDrag(math.NaN()))
	assert.Equal(t, 0.0, c.Display().SplitPercent)
}

func TestController_TogglePreservesSplit(t *testing.T) {
	t.Parallel()

	c := NewController(time.Hour)
	defer c.Close()

	c.Toggle()
	require.True(t, c.UpdateDrag(35))

	// 关闭时待发布的值直接生效，位置保留
	off := c.Toggle()
	assert.Equal(t, State{Active: false, SplitPercent: 35}, off)
	assert.False(t, c.UpdateDrag(80))

	on := c.Toggle()
	assert.Equal(t, State{Active: true, SplitPercent: 35}, on)
}

func TestDebouncer_Flush(t *testing.T) {
	t.Parallel()

	var got []int
	d := NewDebouncer(time.Hour, func(v int) { got = append(got, v) })
	d.Trigger(1)
	d.Trigger(2)
	d.Flush()
	d.Flush()
	d.Trigger(3)
	d.Stop()
	d.Flush()

	assert.Equal(t, []int{2}, got)
}
