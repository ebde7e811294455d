package rembg

import (
	"context"
	"errors"
	"fmt"
)

var ErrRemovalFailed = errors.New("background removal failed")

// Input 原图字节，原样发送给抠图服务
type Input struct {
	Name string
	Data []byte
}

// Remover 返回主体保留、背景透明的抠图字节
type Remover interface {
	Remove(ctx context.Context, in Input) ([]byte, error)
}

// RemovalFailure 抠图服务调用失败或返回非 2xx。只尝试一次，不重试。
type RemovalFailure struct {
	StatusCode int
	Err        error
}

func (e *RemovalFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (status %d): %v", ErrRemovalFailed, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrRemovalFailed, e.Err)
}

func (e *RemovalFailure) Unwrap() error { return e.Err }

func (e *RemovalFailure) Is(target error) bool { return target == ErrRemovalFailed }
