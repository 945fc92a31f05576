package api

import (
	"context"
	"net/http"
	"strconv"
)

func threadPath(id int64, suffix string) string {
	return "/chat/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) CreateThread(ctx context.Context) (Thread, error) {
	var out Thread
	err := c.do(ctx, http.MethodPost, "/chat/create", nil, &out)
	return out, err
}

// ListThreads returns the history in backend order.
func (c *Client) ListThreads(ctx context.Context) ([]Thread, error) {
	var out []Thread
	if err := c.do(ctx, http.MethodGet, "/chat/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetThread(ctx context.Context, id int64) (ThreadDetail, error) {
	var out ThreadDetail
	err := c.do(ctx, http.MethodGet, threadPath(id, ""), nil, &out)
	return out, err
}

func (c *Client) DeleteThread(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, threadPath(id, ""), nil, nil)
}

func (c *Client) SendThreadMessage(ctx context.Context, id int64, content string) (Reply, error) {
	var out Reply
	err := c.do(ctx, http.MethodPost, threadPath(id, "/ai-message"), jsonBody(map[string]string{"content": content}), &out)
	return out, err
}

func (c *Client) UploadThreadImage(ctx context.Context, id int64, img Image) (UploadResult, error) {
	var out UploadResult
	err := c.do(ctx, http.MethodPost, threadPath(id, "/upload-image"), multipartImage(img), &out)
	return out, err
}
