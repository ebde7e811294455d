package background

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/chaos-io/bgremover/resolve"
)

// PresetColors 调色板，第一个为透明
var PresetColors = []color.NRGBA{
	{},
	{R: 0xFF, G: 0x41, B: 0x36, A: 0xFF}, // red
	{R: 0xFF, G: 0x6B, B: 0x6B, A: 0xFF}, // pink
	{R: 0xB1, G: 0x0D, B: 0xC9, A: 0xFF}, // purple
	{R: 0x6B, G: 0x5B, B: 0x95, A: 0xFF}, // dark purple
	{R: 0x4A, G: 0x90, B: 0xE2, A: 0xFF}, // blue
	{R: 0x39, G: 0xCC, B: 0xCC, A: 0xFF}, // cyan
	{R: 0x2E, G: 0xCC, B: 0x40, A: 0xFF}, // green
	{R: 0xFF, G: 0xDC, B: 0x00, A: 0xFF}, // yellow
	{R: 0xFF, G: 0x85, B: 0x1B, A: 0xFF}, // orange
	{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}, // white
	{R: 0xAA, G: 0xAA, B: 0xAA, A: 0xFF}, // gray
	{R: 0x11, G: 0x11, B: 0x11, A: 0xFF}, // black
}

// Library 固定的示例背景。引用只创建一次，重复选择同一示例命中同一缓存。
type Library struct {
	refs []*resolve.Reference
}

// NewLibrary sources 可以是本地路径或 http(s) 地址
func NewLibrary(sources []string) (*Library, error) {
	lib := &Library{refs: make([]*resolve.Reference, 0, len(sources))}
	for _, src := range sources {
		var ref *resolve.Reference
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			var err error
			ref, err = resolve.NewURLRef(src)
			if err != nil {
				return nil, fmt.Errorf("sample background %q: %w", src, err)
			}
		} else {
			ref = resolve.NewFileRef(src)
		}
		lib.refs = append(lib.refs, ref)
	}
	return lib, nil
}

func (l *Library) Len() int { return len(l.refs) }

func (l *Library) Get(i int) (*resolve.Reference, error) {
	if i < 0 || i >= len(l.refs) {
		return nil, fmt.Errorf("sample background index %d out of range [0,%d)", i, len(l.refs))
	}
	return l.refs[i], nil
}

// Contains 引用是否属于示例库（示例引用长期有效，不应随背景切换被丢弃）
func (l *Library) Contains(ref *resolve.Reference) bool {
	for _, r := range l.refs {
		if r.Same(ref) {
			return true
		}
	}
	return false
}

func (l *Library) Names() []string {
	names := make([]string, len(l.refs))
	for i, r := range l.refs {
		names[i] = r.Name()
	}
	return names
}
