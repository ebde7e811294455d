package background

import (
	"errors"
	"image/color"
	"math"
	"sync"

	"github.com/chaos-io/bgremover/resolve"
)

const (
	MinBlur  = 0.0
	MaxBlur  = 20.0
	BlurStep = 0.1
)

var (
	ErrNilReference = errors.New("background image reference is nil")
	ErrInvalidBlur  = errors.New("blur amount must be a finite number >= 0")
)

// Selection 当前背景选择。每个 setter 整体替换 Treatment，模式之间天然互斥。
type Selection struct {
	mu       sync.RWMutex
	current  Treatment
	onChange func(prev, next Treatment)
}

func NewSelection() *Selection {
	return &Selection{}
}

// OnChange 注册变更回调，在锁外调用
func (s *Selection) OnChange(fn func(prev, next Treatment)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

func (s *Selection) Current() Treatment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Selection) SetColor(c color.Color) {
	s.set(NewColor(c))
}

func (s *Selection) SetImage(ref *resolve.Reference) error {
	if ref == nil {
		return ErrNilReference
	}
	s.set(NewImage(ref))
	return nil
}

func (s *Selection) SetBlur(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < MinBlur {
		return ErrInvalidBlur
	}
	s.set(NewBlur(amount))
	return nil
}

func (s *Selection) Clear() {
	s.set(Treatment{})
}

func (s *Selection) set(next Treatment) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	fn := s.onChange
	s.mu.Unlock()

	if fn != nil && !prev.Equal(next) {
		fn(prev, next)
	}
}
