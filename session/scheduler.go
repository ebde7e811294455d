package session

import (
	"context"
	"sync/atomic"
)

// Scheduler 合并渲染请求：单槽通道，绘制期间的多次请求只会触发一次后续绘制
type Scheduler struct {
	render func(ctx context.Context)
	kick   chan struct{}
	passes atomic.Int64
}

func NewScheduler(render func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		render: render,
		kick:   make(chan struct{}, 1),
	}
}

// Request 不阻塞
func (s *Scheduler) Request() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
			s.render(ctx)
			s.passes.Add(1)
		}
	}
}

// Passes 已完成的绘制次数
func (s *Scheduler) Passes() int64 {
	return s.passes.Load()
}
