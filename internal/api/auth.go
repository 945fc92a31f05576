package api

import (
	"context"
	"net/http"
)

func (c *Client) Login(ctx context.Context, email, password string) (Login, error) {
	var out Login
	err := c.do(ctx, http.MethodPost, "/auth/login", jsonBody(map[string]string{
		"email":    email,
		"password": password,
	}), &out)
	return out, err
}

// Register creates an account; the backend requires email verification
// before the first login, so no token comes back.
func (c *Client) Register(ctx context.Context, name, email, password string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/auth/register", jsonBody(map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}), &out)
	return out.Message, err
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, http.MethodGet, "/auth/me", nil, &out)
	return out, err
}
