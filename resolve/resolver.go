package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

const defaultDecodeTimeout = 30 * time.Second

type Loader interface {
	Load(ctx context.Context, ref *Reference) ([]byte, error)
}

var ErrSourceTooLarge = errors.New("image source exceeds limits")

// Limits 加载前的大小和尺寸上限，0 表示不限制
type Limits struct {
	MaxSize      int64
	MaxDimension int
}

// SourceLoader 按引用类型读取原始字节
type SourceLoader struct {
	cli    nhttp.IClient
	limits Limits
}

func NewSourceLoader(cli nhttp.IClient) *SourceLoader {
	return &SourceLoader{cli: cli}
}

// WithLimits 拒绝超过上限的文件和远程图片，解码前只读取头部判断尺寸。
// 内存数据来自已校验的上传或抠图结果，不受限制。
func (l *SourceLoader) WithLimits(limits Limits) *SourceLoader {
	l.limits = limits
	return l
}

func (l *SourceLoader) Load(ctx context.Context, ref *Reference) ([]byte, error) {
	data, err := l.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ref.kind != KindData {
		if err := l.check(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (l *SourceLoader) check(data []byte) error {
	if limit := l.limits.MaxSize; limit > 0 && int64(len(data)) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrSourceTooLarge, len(data), limit)
	}
	if limit := l.limits.MaxDimension; limit > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return err
		}
		if cfg.Width > limit || cfg.Height > limit {
			return fmt.Errorf("%w: %dx%d > %d pixels", ErrSourceTooLarge, cfg.Width, cfg.Height, limit)
		}
	}
	return nil
}

func (l *SourceLoader) read(ctx context.Context, ref *Reference) ([]byte, error) {
	switch ref.kind {
	case KindFile:
		return os.ReadFile(ref.location)
	case KindData:
		if len(ref.data) == 0 {
			return nil, errors.New("empty image data")
		}
		return ref.data, nil
	case KindURL:
		var data []byte
		err := l.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
			RequestURI: ref.location,
			Method:      "GET",
			Response:    &data,
			MaxBodySize: l.limits.MaxSize,
		})
		if err != nil {
			return nil, fmt.Errorf("download image: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown reference kind %v", ref.kind)
	}
}

// Result 一次解析的结果，成功和失败都会被缓存
type Result struct {
	Bitmap *Bitmap
	Err    error
}

// Resolver 异步解码引用并按引用 ID 缓存结果。
// 同一引用的并发解析只解码一次，所有调用方拿到同一个 *Bitmap。
type Resolver struct {
	loader  Loader
	timeout time.Duration
	group   singleflight.Group

	mu       sync.Mutex
	cache    map[string]Result
	inflight map[string]uint64
	token    uint64

	decodes atomic.Int64
}

func NewResolver(loader Loader) *Resolver {
	return &Resolver{
		loader:   loader,
		timeout:  defaultDecodeTimeout,
		cache:    make(map[string]Result),
		inflight: make(map[string]uint64),
	}
}

// Lookup 只查缓存，不触发解码
func (r *Resolver) Lookup(ref *Reference) (Result, bool) {
	if ref == nil {
		return Result{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.cache[ref.id]
	return res, ok
}

// Resolve 解码引用，阻塞调用方直到完成或 ctx 结束。
// ctx 结束不会取消共享的解码过程。
func (r *Resolver) Resolve(ctx context.Context, ref *Reference) (*Bitmap, error) {
	if ref == nil {
		return nil, errors.New("nil reference")
	}

	r.mu.Lock()
	if res, ok := r.cache[ref.id]; ok {
		r.mu.Unlock()
		return res.Bitmap, res.Err
	}
	if _, ok := r.inflight[ref.id]; !ok {
		r.token++
		r.inflight[ref.id] = r.token
	}
	r.mu.Unlock()

	ch := r.group.DoChan(ref.id, func() (interface{}, error) {
		return r.load(ref)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Bitmap), nil
	}
}

// ResolveAsync 在后台解码，完成后回调 fn
func (r *Resolver) ResolveAsync(ref *Reference, fn func(*Bitmap, error)) {
	go func() {
		bmp, err := r.Resolve(context.Background(), ref)
		if fn != nil {
			fn(bmp, err)
		}
	}()
}

// Forget 丢弃引用的缓存；进行中的解码完成后不会再写回缓存
func (r *Resolver) Forget(ref *Reference) {
	if ref == nil {
		return
	}
	r.mu.Lock()
	delete(r.cache, ref.id)
	delete(r.inflight, ref.id)
	r.mu.Unlock()
	r.group.Forget(ref.id)
}

// Decodes 实际执行的解码次数
func (r *Resolver) Decodes() int64 {
	return r.decodes.Load()
}

func (r *Resolver) load(ref *Reference) (*Bitmap, error) {
	r.mu.Lock()
	if res, ok := r.cache[ref.id]; ok {
		r.mu.Unlock()
		return res.Bitmap, res.Err
	}
	token := r.inflight[ref.id]
	r.mu.Unlock()

	bmp, err := r.decode(ref)

	r.mu.Lock()
	if token != 0 && r.inflight[ref.id] == token {
		r.cache[ref.id] = Result{Bitmap: bmp, Err: err}
		delete(r.inflight, ref.id)
	}
	r.mu.Unlock()

	return bmp, err
}

func (r *Resolver) decode(ref *Reference) (*Bitmap, error) {
	defer util.Trace("decode " + ref.String())()
	r.decodes.Add(1)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	data, err := r.loader.Load(ctx, ref)
	if err != nil {
		util.Logger.Warn("failed to load image", zap.Stringer("ref", ref), zap.Error(err))
		return nil, &DecodeError{RefID: ref.id, Err: err}
	}

	img, format, err := util.DecodeImage(data)
	if err != nil {
		util.Logger.Warn("failed to decode image", zap.Stringer("ref", ref), zap.Error(err))
		return nil, &DecodeError{RefID: ref.id, Err: err}
	}

	bmp := &Bitmap{RefID: ref.id, Image: util.ToNRGBA(img)}
	util.Logger.Debug("image decoded",
		zap.Stringer("ref", ref),
		zap.String("format", format),
		zap.Int("width", bmp.Width()),
		zap.Int("height", bmp.Height()))
	return bmp, nil
}
