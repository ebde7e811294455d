package resolve

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nhttp "github.com/chaos-io/bgremover/util/http"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// gatedLoader 在 gate 关闭前阻塞，便于制造并发
type gatedLoader struct {
	gate  chan struct{}
	data  []byte
	calls atomic.Int32
}

func (l *gatedLoader) Load(ctx context.Context, ref *Reference) ([]byte, error) {
	l.calls.Add(1)
	<-l.gate
	return l.data, nil
}

func TestResolver_ConcurrentResolveDecodesOnce(t *testing.T) {
	t.Parallel()

	loader := &gatedLoader{gate: make(chan struct{}), data: pngBytes(t, 8, 6, color.White)}
	r := NewResolver(loader)
	ref := NewDataRef("sample", nil)

	var wg sync.WaitGroup
	got := make([]*Bitmap, 2)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bmp, err := r.Resolve(context.Background(), ref)
			assert.NoError(t, err)
			got[i] = bmp
		}(i)
	}

	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(loader.gate)
	wg.Wait()

	assert.EqualValues(t, 1, r.Decodes())
	assert.EqualValues(t, 1, loader.calls.Load())
	require.NotNil(t, got[0])
	assert.Same(t, got[0], got[1])
	assert.Equal(t, 8, got[0].Width())
	assert.Equal(t, 6, got[0].Height())
	assert.True(t, got[0].For(ref))

	// 之后的解析命中缓存
	again, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Same(t, got[0], again)
	assert.EqualValues(t, 1, r.Decodes())
}

func TestResolver_DecodeErrorIsCached(t *testing.T) {
	t.Parallel()

	r := NewResolver(NewSourceLoader(nhttp.NewHTTPClient()))
	ref := NewDataRef("broken", []byte("definitely not an image"))

	_, err := r.Resolve(context.Background(), ref)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, ref.ID(), decodeErr.RefID)

	res, ok := r.Lookup(ref)
	require.True(t, ok)
	assert.Error(t, res.Err)
	assert.Nil(t, res.Bitmap)

	_, err = r.Resolve(context.Background(), ref)
	assert.Error(t, err)
	assert.EqualValues(t, 1, r.Decodes())
}

func TestResolver_ForgetDropsInFlightResult(t *testing.T) {
	t.Parallel()

	loader := &gatedLoader{gate: make(chan struct{}), data: pngBytes(t, 2, 2, color.Black)}
	r := NewResolver(loader)
	ref := NewDataRef("superseded", nil)

	done := make(chan *Bitmap)
	r.ResolveAsync(ref, func(bmp *Bitmap, err error) {
		assert.NoError(t, err)
		done <- bmp
	})

	require.Eventually(t, func() bool { return loader.calls.Load() == 1 }, time.Second, time.Millisecond)
	r.Forget(ref)
	close(loader.gate)

	bmp := <-done
	assert.NotNil(t, bmp)
	_, ok := r.Lookup(ref)
	assert.False(t, ok)

	// 重新解析会再次解码
	_, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r.Decodes())
}

func TestResolver_ContextCanceled(t *testing.T) {
	t.Parallel()

	loader := &gatedLoader{gate: make(chan struct{}), data: pngBytes(t, 1, 1, color.White)}
	defer close(loader.gate)
	r := NewResolver(loader)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, NewDataRef("slow", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceLoader_Load(t *testing.T) {
	t.Parallel()

	data := pngBytes(t, 3, 3, color.White)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "bg.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	okURL, err := NewURLRef(server.URL + "/bg.png")
	require.NoError(t, err)
	missingURL, err := NewURLRef(server.URL + "/missing.png")
	require.NoError(t, err)

	tests := []struct {
		name    string
		ref     *Reference
		wantErr bool
	}{
		{name: "file", ref: NewFileRef(path)},
		{name: "missing file", ref: NewFileRef(filepath.Join(t.TempDir(), "nope.png")), wantErr: true},
		{name: "data", ref: NewDataRef("upload.png", data)},
		{name: "empty data", ref: NewDataRef("empty.png", nil), wantErr: true},
		{name: "url", ref: okURL},
		{name: "url 404", ref: missingURL, wantErr: true},
	}

	loader := NewSourceLoader(nhttp.NewHTTPClient())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := loader.Load(context.Background(), tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestSourceLoader_Limits(t *testing.T) {
	t.Parallel()

	small := pngBytes(t, 4, 4, color.White)
	wide := pngBytes(t, 64, 2, color.White)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/wide.png" {
			_, _ = w.Write(wide)
			return
		}
		_, _ = w.Write(small)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	smallPath := filepath.Join(dir, "small.png")
	widePath := filepath.Join(dir, "wide.png")
	require.NoError(t, os.WriteFile(smallPath, small, 0o644))
	require.NoError(t, os.WriteFile(widePath, wide, 0o644))

	smallURL, err := NewURLRef(server.URL + "/small.png")
	require.NoError(t, err)
	wideURL, err := NewURLRef(server.URL + "/wide.png")
	require.NoError(t, err)

	tests := []struct {
		name    string
		limits  Limits
		ref     *Reference
		wantErr error
	}{
		{name: "within limits", limits: Limits{MaxSize: 1 << 20, MaxDimension: 16}, ref: smallURL},
		{name: "download over size", limits: Limits{MaxSize: int64(len(small)) - 1}, ref: smallURL, wantErr: nhttp.ErrBodyTooLarge},
		{name: "download over dimension", limits: Limits{MaxDimension: 16}, ref: wideURL, wantErr: ErrSourceTooLarge},
		{name: "file over size", limits: Limits{MaxSize: 10}, ref: NewFileRef(smallPath), wantErr: ErrSourceTooLarge},
		{name: "file over dimension", limits: Limits{MaxDimension: 16}, ref: NewFileRef(widePath), wantErr: ErrSourceTooLarge},
		{name: "data not limited", limits: Limits{MaxSize: 10, MaxDimension: 16}, ref: NewDataRef("wide.png", wide)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loader := NewSourceLoader(nhttp.NewHTTPClient()).WithLimits(tt.limits)
			_, err := loader.Load(context.Background(), tt.ref)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// 超限的图片解析为 DecodeError，不会解码
	r := NewResolver(NewSourceLoader(nil).WithLimits(Limits{MaxDimension: 16}))
	_, err = r.Resolve(context.Background(), NewFileRef(widePath))
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.ErrorIs(t, err, ErrSourceTooLarge)
}

func TestDecodeDataURL(t *testing.T) {
	t.Parallel()

	data := pngBytes(t, 1, 1, color.White)
	got, err := DecodeDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	bmp, err := NewResolver(NewSourceLoader(nil)).Resolve(context.Background(), NewDataRef("custom", got))
	require.NoError(t, err)
	assert.Equal(t, 1, bmp.Width())

	for _, bad := range []string{"image/png;base64,AAAA", "data:image/png,AAAA", "data:image/png;base64", "data:image/png;base64,%%%"} {
		_, err := DecodeDataURL(bad)
		assert.ErrorIs(t, err, ErrInvalidDataURL, bad)
	}
}

func TestReference(t *testing.T) {
	t.Parallel()

	a := NewFileRef("a.png")
	b := NewFileRef("a.png")
	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, a.Same(a))
	assert.False(t, a.Same(b))
	assert.False(t, a.Same(nil))
	assert.True(t, (*Reference)(nil).Same(nil))

	_, err := NewURLRef("ftp://example.com/a.png")
	assert.Error(t, err)
}
