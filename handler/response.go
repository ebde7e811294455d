package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/ingest"
	"github.com/chaos-io/bgremover/model"
	"github.com/chaos-io/bgremover/session"
)

func sessionData(s *session.Session) *model.SessionData {
	snap := s.Snapshot()
	data := &model.SessionData{
		ID:      snap.ID,
		Status:  string(snap.Status()),
		Version: snap.Version,
		Compare: model.CompareData{
			Active:         snap.Compare.Active,
			SplitPercent:   snap.Compare.SplitPercent,
			DisplayPercent: snap.Display.SplitPercent,
			Dragging:       snap.Dragging,
		},
	}
	if snap.Original != nil {
		data.Original = snap.Original.Name()
	}
	if snap.Failure != nil {
		data.Failure = snap.Failure.Error()
	}

	t := snap.Treatment
	data.Background.Mode = t.Mode().String()
	switch t.Mode() {
	case background.SolidColor:
		data.Background.Color = background.FormatColor(t.Color())
	case background.Image:
		data.Background.Image = t.Image().Name()
	case background.Blur:
		data.Background.Blur = t.BlurAmount()
	}
	return data
}

func respond(c *gin.Context, s *session.Session, msg string) {
	c.JSON(http.StatusOK, model.SessionResponse{
		Success: true,
		Message: msg,
		Data:    sessionData(s),
	})
}

func fail(c *gin.Context, status int, msg string, err error) {
	resp := model.ErrorResponse{Success: false, Message: msg}
	if err != nil {
		resp.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, resp)
}

func failUpload(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, "文件大小超过限制", err)
	case errors.Is(err, ingest.ErrUnsupportedType), errors.Is(err, ingest.ErrEmpty):
		fail(c, http.StatusBadRequest, "不支持的文件类型", err)
	default:
		fail(c, http.StatusInternalServerError, "读取上传文件失败", err)
	}
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, http.StatusBadRequest, "请求参数错误", err)
		return false
	}
	return true
}
