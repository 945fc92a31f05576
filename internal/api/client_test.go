package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, r chi.Router, token string) (*Client, *int) {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	unauthorized := 0
	c := New(Options{
		BaseURL:        srv.URL + "/",
		Timeout:        5 * time.Second,
		Token:          func() string { return token },
		OnUnauthorized: func() { unauthorized++ },
	})
	return c, &unauthorized
}

func TestGuestFlow(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/guest/start", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"session_id": "g1", "message": "Guest chat started."})
	})
	r.Post("/guest/{id}/ai-message", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") != "g1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Guest session expired"})
			return
		}
		var body struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{
			"assistant_message": "echo: " + body.Content,
			"patient_state":     map[string]any{"qa_active": false},
		})
	})

	c, _ := newTestClient(t, r, "")
	ctx := context.Background()

	start, err := c.StartGuest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "g1", start.SessionID)

	reply, err := c.SendGuestMessage(ctx, "g1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", reply.AssistantMessage)
	assert.JSONEq(t, `{"qa_active":false}`, string(reply.PatientState))

	_, err = c.SendGuestMessage(ctx, "gone", "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Guest session expired", apiErr.Detail)
}

func TestThreadEndpointsSendBearerAndDecodeChatID(t *testing.T) {
	var sawAuth []string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sawAuth = append(sawAuth, req.Header.Get("Authorization"))
			assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/chat/create", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"chat_id": 42, "title": "New Chat", "created_at": "2024-05-01T10:00:00.123456"})
	})
	r.Get("/chat/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"chat_id": 42, "title": "New Chat", "created_at": "2024-05-01T10:00:00"},
			{"thread_id": 7, "title": "Older", "created_at": "2024-04-01T10:00:00Z"},
		})
	})
	r.Get("/chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"chat_id": 42, "title": "New Chat", "created_at": "2024-05-01T10:00:00",
			"messages": []map[string]any{
				{"id": 1, "role": "user", "content": "foot pain", "created_at": "2024-05-01T10:01:00"},
				{"id": 2, "role": "assistant", "content": "Tell me more", "created_at": "2024-05-01T10:01:02"},
			},
		})
	})
	r.Delete("/chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	})

	c, _ := newTestClient(t, r, "tok-1")
	ctx := context.Background()

	th, err := c.CreateThread(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), th.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), th.CreatedAt.Time)

	list, err := c.ListThreads(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(7), list[1].ID)

	detail, err := c.GetThread(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), detail.ID)
	require.Len(t, detail.Messages, 2)
	assert.Equal(t, "assistant", detail.Messages[1].Role)

	require.NoError(t, c.DeleteThread(ctx, 42))

	for _, h := range sawAuth {
		assert.Equal(t, "Bearer tok-1", h)
	}
}

func TestUploadSendsMultipartWithContentType(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/{id}/upload-image", func(w http.ResponseWriter, req *http.Request) {
		file, header, err := req.FormFile("file")
		if !assert.NoError(t, err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "no file"})
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "foot.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, []byte("png-bytes"), data)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":            "success",
			"prediction":        map[string]any{"severity": "high", "confidence": 0.91234567, "is_foot": true},
			"assistant_message": "Predicted ulcer severity: **HIGH**",
		})
	})
	r.Post("/guest/{id}/upload-image", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "prediction": "low", "assistant_message": "ok"})
	})

	c, _ := newTestClient(t, r, "")
	ctx := context.Background()
	img := Image{Name: "foot.png", ContentType: "image/png", Data: []byte("png-bytes")}

	res, err := c.UploadThreadImage(ctx, 3, img)
	require.NoError(t, err)
	assert.Equal(t, "high", res.Prediction.Severity)
	require.True(t, res.Prediction.Confidence.Valid)
	assert.Equal(t, "0.9123", res.Prediction.Confidence.Decimal.Round(4).String())

	res, err = c.UploadGuestImage(ctx, "g1", img)
	require.NoError(t, err)
	assert.Equal(t, "low", res.Prediction.Severity)
	assert.False(t, res.Prediction.Confidence.Valid)
}

func TestUnauthorizedInvokesHook(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chat/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Could not validate credentials"})
	})

	c, calls := newTestClient(t, r, "expired")
	_, err := c.ListThreads(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 1, *calls)
}

func TestFailedLoginDoesNotInvokeHook(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid email or password"})
	})

	c, calls := newTestClient(t, r, "")
	_, err := c.Login(context.Background(), "a@b.c", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, *calls)
}

func TestServerErrorAndValidationDetail(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/chat/{id}/ai-message", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]string{{"msg": "field required"}, {"msg": "too short"}},
		})
	})
	r.Post("/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	c, _ := newTestClient(t, r, "")
	_, err := c.SendThreadMessage(context.Background(), 1, "")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "field required; too short", apiErr.Detail)

	_, err = c.Login(context.Background(), "a@b.c", "pw")
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsServerError())
	assert.Equal(t, "upstream down", apiErr.Detail)
}

func TestSetBaseURL(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/auth/me", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "name": "Ana", "email": "ana@example.com"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := New(Options{BaseURL: "http://127.0.0.1:1"})
	c.SetBaseURL(srv.URL)

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Ana", me.Name)
}
