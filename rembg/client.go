package rembg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"time"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

const (
	DefaultEndpoint  = "https://rembg.sj1.xyz/remove-bg/file/"
	DefaultFieldName = "file"
)

// Client 通过 multipart 表单把原图 POST 到远程抠图服务
type Client struct {
	endpoint  string
	fieldName string
	timeout   time.Duration
	cli       nhttp.IClient
}

func NewClient(endpoint, fieldName string, timeout time.Duration, cli nhttp.IClient) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if fieldName == "" {
		fieldName = DefaultFieldName
	}
	return &Client{
		endpoint:  endpoint,
		fieldName: fieldName,
		timeout:   timeout,
		cli:       cli,
	}
}

/*
	curl -X POST "https://rembg.sj1.xyz/remove-bg/file/" \
	  -F "file=@my_image.png" -o cutout.png
*/
func (c *Client) Remove(ctx context.Context, in Input) ([]byte, error) {
	body, contentType, err := c.form(in)
	if err != nil {
		return nil, &RemovalFailure{Err: err}
	}

	var data []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: c.endpoint,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &data,
		Timeout:    c.timeout,
	}

	start := time.Now()
	err = c.cli.DoHTTPRequest(ctx, reqParam)
	if err != nil {
		var statusErr *nhttp.StatusError
		if errors.As(err, &statusErr) {
			return nil, &RemovalFailure{StatusCode: statusErr.StatusCode, Err: err}
		}
		return nil, &RemovalFailure{Err: err}
	}
	if len(data) == 0 {
		return nil, &RemovalFailure{Err: errors.New("empty response body")}
	}

	util.Logger.Debug("background removed",
		zap.String("name", in.Name),
		zap.Int("input_size", len(in.Data)),
		zap.Int("output_size", len(data)),
		zap.Duration("cost", time.Since(start)))
	return data, nil
}

func (c *Client) form(in Input) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := filepath.Base(in.Name)
	if name == "." || name == "/" {
		name = "image"
	}
	mime := "application/octet-stream"
	if kind, err := filetype.Match(in.Data); err == nil && kind != filetype.Unknown {
		mime = kind.MIME.Value
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, c.fieldName, name))
	header.Set("Content-Type", mime)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(in.Data); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
