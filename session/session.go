// Package session ties the background selection, compare overlay, resolver
// and renderer together for one uploaded photo.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/compare"
	"github.com/chaos-io/bgremover/compose"
	"github.com/chaos-io/bgremover/ingest"
	"github.com/chaos-io/bgremover/rembg"
	"github.com/chaos-io/bgremover/resolve"
	"github.com/chaos-io/bgremover/util"
)

var (
	ErrNoCutout   = errors.New("cutout not available")
	ErrNoOriginal = errors.New("original image not resolvable")
	ErrStale      = errors.New("stale result discarded")
	ErrClosed     = errors.New("session closed")
)

type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
)

type Options struct {
	DebounceWindow time.Duration
	RemoveTimeout  time.Duration
	Scaler         draw.Scaler
	Affordance     bool
}

// Deps 多个会话共享的依赖
type Deps struct {
	Remover  rembg.Remover
	Resolver *resolve.Resolver
	Library  *background.Library
	Options  Options
}

// Snapshot 某一时刻会话状态的一致副本，绘制只读取快照
type Snapshot struct {
	ID        string
	Version   uint64
	Original  *resolve.Reference
	Cutout    *resolve.Reference
	Loading   bool
	Failure   error
	Treatment background.Treatment
	// Compare 防抖后的对比状态，用于合成
	Compare compare.State
	// Display 实时的对比状态，用于显示分割线
	Display  compare.State
	Dragging bool
}

func (s Snapshot) Status() Status {
	switch {
	case s.Loading:
		return StatusLoading
	case s.Failure != nil || s.Cutout == nil:
		return StatusFailed
	default:
		return StatusReady
	}
}

type Session struct {
	id       string
	deps     Deps
	renderer *compose.Renderer

	ctx       context.Context
	cancel    context.CancelFunc
	scheduler *Scheduler

	mu         sync.Mutex
	closed     bool
	asset      *ingest.Asset
	original   *resolve.Reference
	input      rembg.Input
	cutout     *resolve.Reference
	loading    bool
	failure    error
	generation uint64
	version    uint64
	selection  *background.Selection
	compare    *compare.Controller
	lastAccess time.Time

	drawMu       sync.Mutex
	surface      *compose.Surface
	drawnVersion uint64
	drawnFull    bool
}

// New 创建会话并立即开始抠图
func New(id string, deps Deps, asset *ingest.Asset) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	renderer := compose.NewRenderer(deps.Options.Scaler)
	renderer.Affordance = deps.Options.Affordance

	s := &Session{
		id:         id,
		deps:       deps,
		renderer:   renderer,
		ctx:        ctx,
		cancel:     cancel,
		surface:    compose.NewSurface(),
		lastAccess: time.Now(),
	}
	s.scheduler = NewScheduler(s.renderPass)
	go s.scheduler.Run(ctx)

	s.Reset(asset)
	return s
}

func (s *Session) ID() string { return s.id }

// Reset 新图片替换全部状态，背景和对比设置不保留
func (s *Session) Reset(asset *ingest.Asset) {
	selection := background.NewSelection()
	selection.OnChange(s.onTreatmentChange)
	ctrl := compare.NewController(s.deps.Options.DebounceWindow)
	ctrl.OnSettle(s.onCompareSettle)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ctrl.Close()
		return
	}
	stale := s.ownedRefsLocked()
	old := s.compare

	s.generation++
	s.version++
	gen := s.generation
	s.asset = asset
	s.original = asset.Ref
	s.input = rembg.Input{Name: asset.Name, Data: asset.Data}
	s.cutout = nil
	s.loading = true
	s.failure = nil
	s.selection = selection
	s.compare = ctrl
	s.lastAccess = time.Now()
	input := s.input
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
	for _, ref := range stale {
		s.deps.Resolver.Forget(ref)
	}

	util.Logger.Info("session reset",
		zap.String("session", s.id),
		zap.String("name", asset.Name),
		zap.Int("width", asset.Width),
		zap.Int("height", asset.Height))

	go s.remove(gen, input)
}

// remove 调用抠图服务；结果返回时若会话已换图则丢弃
func (s *Session) remove(gen uint64, in rembg.Input) {
	ctx := s.ctx
	if t := s.deps.Options.RemoveTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	data, err := s.deps.Remover.Remove(ctx, in)
	if err == nil {
		err = checkCutout(data)
	}

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		util.Logger.Debug("removal result ignored", zap.String("session", s.id), zap.Error(ErrStale))
		return
	}
	s.loading = false
	s.version++
	if err != nil {
		s.failure = err
		s.mu.Unlock()
		util.Logger.Warn("background removal failed", zap.String("session", s.id), zap.Error(err))
		return
	}
	s.cutout = resolve.NewDataRef("cutout.png", data)
	s.mu.Unlock()

	util.Logger.Info("background removed", zap.String("session", s.id), zap.Int("size", len(data)))
	s.scheduler.Request()
}

// checkCutout 2xx 响应体必须是可识别的图片，否则同样视为抠图失败
func checkCutout(data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return &rembg.RemovalFailure{Err: fmt.Errorf("invalid cutout image: %w", err)}
	}
	return nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        s.id,
		Version:   s.version,
		Original:  s.original,
		Cutout:    s.cutout,
		Loading:   s.loading,
		Failure:   s.failure,
		Treatment: s.selection.Current(),
		Compare:   s.compare.Settled(),
		Display:   s.compare.Display(),
		Dragging:  s.compare.Dragging(),
	}
}

func (s *Session) SetColor(c color.Color) {
	s.touch().SetColor(c)
}

func (s *Session) SetImage(ref *resolve.Reference) error {
	return s.touch().SetImage(ref)
}

// SetSample 选择示例库中的背景
func (s *Session) SetSample(i int) error {
	if s.deps.Library == nil {
		return errors.New("sample library not configured")
	}
	ref, err := s.deps.Library.Get(i)
	if err != nil {
		return err
	}
	return s.SetImage(ref)
}

// SetBlur 需要原图可用，但不会触发解码
func (s *Session) SetBlur(amount float64) error {
	s.mu.Lock()
	original := s.original
	sel := s.selection
	s.lastAccess = time.Now()
	s.mu.Unlock()

	if original == nil {
		return ErrNoOriginal
	}
	if res, ok := s.deps.Resolver.Lookup(original); ok && res.Err != nil {
		return fmt.Errorf("%w: %v", ErrNoOriginal, res.Err)
	}
	return sel.SetBlur(amount)
}

func (s *Session) ClearBackground() {
	s.touch().Clear()
}

func (s *Session) BeginCompare(percent float64) bool {
	return s.compareCtrl().Begin(percent)
}

func (s *Session) DragCompare(percent float64) bool {
	return s.compareCtrl().UpdateDrag(percent)
}

func (s *Session) EndCompare() {
	s.compareCtrl().End()
}

func (s *Session) ToggleCompare() compare.State {
	return s.compareCtrl().Toggle()
}

// Asset 当前原图；抠图失败时客户端仍可显示它
func (s *Session) Asset() *ingest.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.asset
}

// RenderPasses 调度器已完成的绘制次数
func (s *Session) RenderPasses() int64 {
	return s.scheduler.Passes()
}

// LastAccess 最近一次用户操作时间
func (s *Session) LastAccess() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

// Render 同步解码所需位图并绘制当前状态
func (s *Session) Render(ctx context.Context) error {
	snap := s.Snapshot()
	if snap.Cutout == nil {
		if snap.Failure != nil {
			return fmt.Errorf("%w: %w", ErrNoCutout, snap.Failure)
		}
		return ErrNoCutout
	}

	fg, err := s.deps.Resolver.Resolve(ctx, snap.Cutout)
	if err != nil {
		return fmt.Errorf("resolve cutout: %w", err)
	}
	frame := compose.Frame{Foreground: fg, Treatment: snap.Treatment, Compare: snap.Compare}
	if needsOriginal(snap) {
		frame.Original = s.resolveOptional(ctx, snap.Original)
	}
	if snap.Treatment.Mode() == background.Image {
		frame.Background = s.resolveOptional(ctx, snap.Treatment.Image())
	}

	// 已有更新的画面时不需要重画
	if err := s.draw(snap, frame, true); err != nil && !errors.Is(err, ErrStale) {
		return err
	}
	return nil
}

// Export 绘制并把画布编码为 PNG
func (s *Session) Export(ctx context.Context, w io.Writer) error {
	if err := s.Render(ctx); err != nil {
		return err
	}
	s.drawMu.Lock()
	defer s.drawMu.Unlock()
	return compose.EncodePNG(w, s.surface)
}

// Image 画布当前内容的副本，尚未绘制时为 nil
func (s *Session) Image() *image.RGBA {
	s.drawMu.Lock()
	defer s.drawMu.Unlock()
	return s.surface.Snapshot()
}

// Close 停止调度并释放位图缓存
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stale := s.ownedRefsLocked()
	ctrl := s.compare
	s.mu.Unlock()

	s.cancel()
	ctrl.Close()
	for _, ref := range stale {
		s.deps.Resolver.Forget(ref)
	}
	util.Logger.Debug("session closed", zap.String("session", s.id))
}

// renderPass 由调度器调用：只使用已解码的位图，未就绪的异步解码，完成后再次请求绘制
func (s *Session) renderPass(ctx context.Context) {
	defer util.Trace("render pass " + s.id)()

	snap := s.Snapshot()
	if snap.Cutout == nil {
		return
	}

	var pending []*resolve.Reference
	lookup := func(ref *resolve.Reference) *resolve.Bitmap {
		res, ok := s.deps.Resolver.Lookup(ref)
		if !ok {
			pending = append(pending, ref)
			return nil
		}
		if res.Err != nil {
			util.Logger.Debug("layer unavailable", zap.Stringer("ref", ref), zap.Error(res.Err))
		}
		return res.Bitmap
	}

	frame := compose.Frame{
		Foreground: lookup(snap.Cutout),
		Treatment:  snap.Treatment,
		Compare:    snap.Compare,
	}
	if needsOriginal(snap) {
		frame.Original = lookup(snap.Original)
	}
	if snap.Treatment.Mode() == background.Image {
		frame.Background = lookup(snap.Treatment.Image())
	}

	if !s.current(snap) {
		return
	}
	for _, ref := range pending {
		s.deps.Resolver.ResolveAsync(ref, func(*resolve.Bitmap, error) {
			s.scheduler.Request()
		})
	}
	if frame.Foreground == nil {
		return
	}

	if err := s.draw(snap, frame, len(pending) == 0); err != nil && !errors.Is(err, ErrStale) {
		util.Logger.Warn("render failed", zap.String("session", s.id), zap.Error(err))
	}
}

// draw 旧版本的快照不会覆盖已绘制的新版本；同一版本下缺图层的画面不覆盖完整画面
func (s *Session) draw(snap Snapshot, frame compose.Frame, full bool) error {
	s.drawMu.Lock()
	defer s.drawMu.Unlock()

	if snap.Version < s.drawnVersion || (snap.Version == s.drawnVersion && s.drawnFull && !full) {
		return ErrStale
	}
	if err := s.renderer.Render(s.surface, frame); err != nil {
		return err
	}
	s.drawnVersion = snap.Version
	s.drawnFull = full
	return nil
}

// current 快照是否仍是最新状态
func (s *Session) current(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.version == snap.Version
}

func (s *Session) resolveOptional(ctx context.Context, ref *resolve.Reference) *resolve.Bitmap {
	bmp, err := s.deps.Resolver.Resolve(ctx, ref)
	if err != nil {
		util.Logger.Warn("layer unavailable", zap.Stringer("ref", ref), zap.Error(err))
		return nil
	}
	return bmp
}

func needsOriginal(snap Snapshot) bool {
	return snap.Treatment.Mode() == background.Blur || snap.Compare.Active
}

func (s *Session) onTreatmentChange(prev, next background.Treatment) {
	if prev.Mode() == background.Image && !prev.Image().Same(next.Image()) && !s.isSample(prev.Image()) {
		s.deps.Resolver.Forget(prev.Image())
	}
	s.bump()
}

func (s *Session) onCompareSettle(compare.State) {
	s.bump()
}

func (s *Session) bump() {
	s.mu.Lock()
	s.version++
	s.mu.Unlock()
	s.scheduler.Request()
}

func (s *Session) touch() *background.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
	return s.selection
}

func (s *Session) compareCtrl() *compare.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
	return s.compare
}

func (s *Session) isSample(ref *resolve.Reference) bool {
	return s.deps.Library != nil && s.deps.Library.Contains(ref)
}

// ownedRefsLocked 会话独占的引用，示例背景除外
func (s *Session) ownedRefsLocked() []*resolve.Reference {
	var refs []*resolve.Reference
	if s.original != nil {
		refs = append(refs, s.original)
	}
	if s.cutout != nil {
		refs = append(refs, s.cutout)
	}
	if s.selection != nil {
		if t := s.selection.Current(); t.Mode() == background.Image && !s.isSample(t.Image()) {
			refs = append(refs, t.Image())
		}
	}
	return refs
}
