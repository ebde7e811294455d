// Package resolve turns logical image references into decoded bitmaps.
package resolve

import (
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"net/url"
	"strings"

	"github.com/segmentio/ksuid"
)

type Kind int

const (
	KindFile Kind = iota
	KindData
	KindURL
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindData:
		return "data"
	case KindURL:
		return "url"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var ErrInvalidDataURL = errors.New("invalid data url")

// Reference 图片的逻辑句柄，创建后不可变。ID 唯一，用作缓存键。
type Reference struct {
	id       string
	kind     Kind
	name     string
	location string
	data     []byte
}

func newReference(kind Kind, name, location string, data []byte) *Reference {
	return &Reference{
		id:       ksuid.New().String(),
		kind:     kind,
		name:     name,
		location: location,
		data:     data,
	}
}

// NewFileRef 本地文件
func NewFileRef(path string) *Reference {
	return newReference(KindFile, path, path, nil)
}

// NewDataRef 内存中的图片字节，data 不会被复制，调用方之后不得修改
func NewDataRef(name string, data []byte) *Reference {
	return newReference(KindData, name, "", data)
}

// NewURLRef 远程图片
func NewURLRef(rawURL string) (*Reference, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return newReference(KindURL, rawURL, rawURL, nil), nil
}

// DecodeDataURL 解析 data:image/png;base64,... 形式的内嵌图片
func DecodeDataURL(dataURL string) ([]byte, error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return nil, ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, nil
}

func (r *Reference) ID() string       { return r.id }
func (r *Reference) Kind() Kind       { return r.kind }
func (r *Reference) Name() string     { return r.name }
func (r *Reference) Location() string { return r.location }

// Same 两个引用是否指向同一个逻辑图片
func (r *Reference) Same(o *Reference) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.id == o.id
}

func (r *Reference) String() string {
	return r.kind.String() + ":" + r.name + "#" + r.id
}

// Bitmap 解码后的位图，记录来源引用以便检测过期结果
type Bitmap struct {
	RefID string
	Image *image.NRGBA
}

func (b *Bitmap) Width() int  { return b.Image.Bounds().Dx() }
func (b *Bitmap) Height() int { return b.Image.Bounds().Dy() }

// For 位图是否属于给定引用
func (b *Bitmap) For(ref *Reference) bool {
	return b != nil && ref != nil && b.RefID == ref.id
}

// DecodeError 引用无法解码为位图
type DecodeError struct {
	RefID string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.RefID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
