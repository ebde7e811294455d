package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/compose"
	"github.com/chaos-io/bgremover/ingest"
	"github.com/chaos-io/bgremover/model"
	"github.com/chaos-io/bgremover/resolve"
	"github.com/chaos-io/bgremover/session"
	"github.com/chaos-io/bgremover/util"
)

type SessionHandler struct {
	manager *session.Manager
	library *background.Library
	upload  ingest.Options
}

func NewSessionHandler(manager *session.Manager, library *background.Library, upload ingest.Options) *SessionHandler {
	return &SessionHandler{
		manager: manager,
		library: library,
		upload:  upload,
	}
}

// Register 挂载 /sessions 和 /backgrounds 路由
func (h *SessionHandler) Register(api *gin.RouterGroup) {
	api.GET("/backgrounds", h.Backgrounds)

	api.POST("/sessions", h.Create)
	s := api.Group("/sessions/:id")
	{
		s.GET("", h.Get)
		s.DELETE("", h.Delete)
		s.PUT("/image", h.ReplaceImage)
		s.GET("/original", h.Original)

		s.PUT("/background/color", h.SetColor)
		s.PUT("/background/sample", h.SetSample)
		s.PUT("/background/image", h.SetImage)
		s.PUT("/background/blur", h.SetBlur)
		s.DELETE("/background", h.ClearBackground)

		s.POST("/compare/toggle", h.ToggleCompare)
		s.POST("/compare/begin", h.BeginCompare)
		s.POST("/compare/drag", h.DragCompare)
		s.POST("/compare/end", h.EndCompare)

		s.GET("/render.png", h.Render)
		s.GET("/download", h.Download)
	}
}

// Backgrounds 预设颜色和示例背景
func (h *SessionHandler) Backgrounds(c *gin.Context) {
	colors := make([]string, len(background.PresetColors))
	for i, col := range background.PresetColors {
		colors[i] = background.FormatColor(col)
	}
	samples := []string{}
	if h.library != nil {
		samples = h.library.Names()
	}

	c.JSON(http.StatusOK, model.BackgroundsResponse{
		Success: true,
		Message: "查询成功",
		Data:    &model.BackgroundOptions{Colors: colors, Samples: samples},
	})
}

// Create 上传图片并开始抠图
func (h *SessionHandler) Create(c *gin.Context) {
	asset, ok := h.readAsset(c)
	if !ok {
		return
	}

	s := h.manager.Create(asset)
	util.Logger.Info("session created",
		zap.String("session", s.ID()),
		zap.String("name", asset.Name),
		zap.String("mime", asset.MIME))

	c.JSON(http.StatusCreated, model.SessionResponse{
		Success: true,
		Message: "上传成功，正在去除背景",
		Data:    sessionData(s),
	})
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	respond(c, s, "查询成功")
}

// Delete 关闭会话并释放资源
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.manager.Delete(c.Param("id")); err != nil {
		fail(c, http.StatusNotFound, "会话不存在", err)
		return
	}
	c.JSON(http.StatusOK, model.SessionResponse{Success: true, Message: "已删除"})
}

// ReplaceImage 选择新图片，背景和对比设置被重置
func (h *SessionHandler) ReplaceImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	asset, ok := h.readAsset(c)
	if !ok {
		return
	}
	s.Reset(asset)
	respond(c, s, "上传成功，正在去除背景")
}

// Original 返回上传的原图（缩放后的版本），不依赖抠图结果
func (h *SessionHandler) Original(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	asset := s.Asset()
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", asset.Name))
	c.Data(http.StatusOK, asset.MIME, asset.Data)
}

func (h *SessionHandler) SetColor(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.ColorRequest
	if !bind(c, &req) {
		return
	}
	col, err := background.ParseColor(req.Color)
	if err != nil {
		fail(c, http.StatusBadRequest, "颜色格式错误", err)
		return
	}
	s.SetColor(col)
	respond(c, s, "背景已更新")
}

func (h *SessionHandler) SetSample(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.SampleRequest
	if !bind(c, &req) {
		return
	}
	if err := s.SetSample(*req.Index); err != nil {
		fail(c, http.StatusBadRequest, "示例背景不存在", err)
		return
	}
	respond(c, s, "背景已更新")
}

// SetImage 自定义背景：multipart 字段 image，或 JSON 中的 url / data_url
func (h *SessionHandler) SetImage(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	var ref *resolve.Reference
	if file, err := c.FormFile("image"); err == nil {
		asset, err := h.prepare(file)
		if err != nil {
			failUpload(c, err)
			return
		}
		ref = asset.Ref
	} else {
		var req model.ImageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "请上传背景图片或提供图片地址", err)
			return
		}
		switch {
		case req.DataURL != "":
			// 内嵌图片与上传文件走同样的校验
			data, err := resolve.DecodeDataURL(req.DataURL)
			if err != nil {
				fail(c, http.StatusBadRequest, "图片地址无效", err)
				return
			}
			asset, err := ingest.Prepare("background.png", data, h.upload)
			if err != nil {
				failUpload(c, err)
				return
			}
			ref = asset.Ref
		case req.URL != "":
			// 远程图片在下载时由 SourceLoader 限制大小和尺寸
			ref, err = resolve.NewURLRef(req.URL)
			if err != nil {
				fail(c, http.StatusBadRequest, "图片地址无效", err)
				return
			}
		default:
			fail(c, http.StatusBadRequest, "图片地址无效", errors.New("url or data_url required"))
			return
		}
	}

	if err := s.SetImage(ref); err != nil {
		fail(c, http.StatusBadRequest, "设置背景失败", err)
		return
	}
	respond(c, s, "背景已更新")
}

func (h *SessionHandler) SetBlur(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.BlurRequest
	if !bind(c, &req) {
		return
	}
	if err := s.SetBlur(*req.Amount); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, session.ErrNoOriginal) {
			status = http.StatusConflict
		}
		fail(c, status, "设置模糊失败", err)
		return
	}
	respond(c, s, "背景已更新")
}

func (h *SessionHandler) ClearBackground(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.ClearBackground()
	respond(c, s, "背景已清除")
}

func (h *SessionHandler) ToggleCompare(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.ToggleCompare()
	respond(c, s, "对比已切换")
}

func (h *SessionHandler) BeginCompare(c *gin.Context) {
	h.drag(c, (*session.Session).BeginCompare)
}

func (h *SessionHandler) DragCompare(c *gin.Context) {
	h.drag(c, (*session.Session).DragCompare)
}

func (h *SessionHandler) EndCompare(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.EndCompare()
	respond(c, s, "拖动结束")
}

// Render 当前画面，页面内显示
func (h *SessionHandler) Render(c *gin.Context) {
	h.writePNG(c, "inline")
}

// Download 导出为 removed_background.png
func (h *SessionHandler) Download(c *gin.Context) {
	h.writePNG(c, "attachment")
}

func (h *SessionHandler) drag(c *gin.Context, fn func(*session.Session, float64) bool) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req model.PercentRequest
	if !bind(c, &req) {
		return
	}
	if !fn(s, *req.Percent) {
		fail(c, http.StatusConflict, "对比未开启", nil)
		return
	}
	respond(c, s, "ok")
}

func (h *SessionHandler) writePNG(c *gin.Context, disposition string) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	// 编码到内存，失败时还能返回 JSON 错误
	var buf bytes.Buffer
	if err := s.Export(c.Request.Context(), &buf); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrNoCutout) {
			status = http.StatusConflict
		}
		util.Logger.Warn("failed to export image", zap.String("session", s.ID()), zap.Error(err))
		fail(c, status, "图片尚未就绪", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, compose.ExportFilename))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func (h *SessionHandler) session(c *gin.Context) (*session.Session, bool) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "会话不存在", err)
		return nil, false
	}
	return s, true
}

func (h *SessionHandler) readAsset(c *gin.Context) (*ingest.Asset, bool) {
	file, err := c.FormFile("image")
	if err != nil {
		util.Logger.Error("failed to get uploaded file", zap.Error(err))
		fail(c, http.StatusBadRequest, "请上传图片文件", err)
		return nil, false
	}
	asset, err := h.prepare(file)
	if err != nil {
		failUpload(c, err)
		return nil, false
	}
	return asset, true
}

func (h *SessionHandler) prepare(file *multipart.FileHeader) (*ingest.Asset, error) {
	if h.upload.MaxSize > 0 && file.Size > h.upload.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ingest.ErrTooLarge, file.Size, h.upload.MaxSize)
	}
	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return ingest.Prepare(file.Filename, data, h.upload)
}
