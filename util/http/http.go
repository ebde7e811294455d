package http

import (
	"context"
	"io"
	"time"
)

type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 描述一次请求，请求体和响应体都是原始字节
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Body       io.Reader
	// Response 非 nil 时接收响应体
	Response *[]byte

	Timeout time.Duration
	// MaxBodySize 响应体上限，0 表示不限制
	MaxBodySize int64
}
