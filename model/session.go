package model

// SessionData 会话状态
type SessionData struct {
	ID         string      `json:"id"`
	Status     string      `json:"status"` // loading, ready, failed
	Version    uint64      `json:"version"`
	Original   string      `json:"original"`
	Failure    string      `json:"failure,omitempty"`
	Background Background  `json:"background"`
	Compare    CompareData `json:"compare"`
}

// Background 当前背景处理方式，只有与 mode 对应的字段有值
type Background struct {
	Mode  string  `json:"mode"` // transparent, color, image, blur
	Color string  `json:"color,omitempty"`
	Image string  `json:"image,omitempty"`
	Blur  float64 `json:"blur,omitempty"`
}

// CompareData 对比状态，display_percent 为拖动中的实时位置
type CompareData struct {
	Active         bool    `json:"active"`
	SplitPercent   float64 `json:"split_percent"`
	DisplayPercent float64 `json:"display_percent"`
	Dragging       bool    `json:"dragging"`
}

// BackgroundOptions 可选的预设颜色和示例背景
type BackgroundOptions struct {
	Colors  []string `json:"colors"`
	Samples []string `json:"samples"`
}

// ColorRequest 设置纯色背景
type ColorRequest struct {
	Color string `json:"color" binding:"required"`
}

// SampleRequest 选择示例背景
type SampleRequest struct {
	Index *int `json:"index" binding:"required"`
}

// ImageRequest 通过地址设置背景图，二选一
type ImageRequest struct {
	URL     string `json:"url"`
	DataURL string `json:"data_url"`
}

type BlurRequest struct {
	Amount *float64 `json:"amount" binding:"required"`
}

type PercentRequest struct {
	Percent *float64 `json:"percent" binding:"required"`
}

// SessionResponse 会话响应
type SessionResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Data    *SessionData `json:"data,omitempty"`
}

type BackgroundsResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    *BackgroundOptions `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
