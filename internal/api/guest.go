package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
)

// StartGuest asks the backend for a new ephemeral session.
func (c *Client) StartGuest(ctx context.Context) (GuestStart, error) {
	var out GuestStart
	if err := c.do(ctx, http.MethodPost, "/guest/start", nil, &out); err != nil {
		return GuestStart{}, err
	}
	if out.SessionID == "" {
		return GuestStart{}, fmt.Errorf("POST /guest/start: empty session_id")
	}
	return out, nil
}

func (c *Client) SendGuestMessage(ctx context.Context, sessionID, content string) (Reply, error) {
	var out Reply
	path := "/guest/" + url.PathEscape(sessionID) + "/ai-message"
	err := c.do(ctx, http.MethodPost, path, jsonBody(map[string]string{"content": content}), &out)
	return out, err
}

func (c *Client) UploadGuestImage(ctx context.Context, sessionID string, img Image) (UploadResult, error) {
	var out UploadResult
	path := "/guest/" + url.PathEscape(sessionID) + "/upload-image"
	err := c.do(ctx, http.MethodPost, path, multipartImage(img), &out)
	return out, err
}

func multipartImage(img Image) func(*resty.Request) {
	return func(r *resty.Request) {
		r.SetMultipartField("file", img.Name, img.ContentType, bytes.NewReader(img.Data))
	}
}
