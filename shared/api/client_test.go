package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClient_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   error
		msg    string
	}{
		{name: "conflict with error envelope", status: http.StatusConflict, body: `{"success":false,"error":"Team already exists"}`, want: ErrConflict, msg: "Team already exists"},
		{name: "not found with message envelope", status: http.StatusNotFound, body: `{"message":"missing"}`, want: ErrNotFound, msg: "missing"},
		{name: "bad request raw body", status: http.StatusBadRequest, body: "nope", want: ErrBadRequest, msg: "nope"},
		{name: "gateway", status: http.StatusBadGateway, body: "", want: ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, srv.Client())
			err := c.Get(context.Background(), "/x", nil)
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v", err)
			require.Equal(t, tt.status, GetHTTPStatusCode(err))
			if tt.msg != "" {
				require.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestClient_DecodesResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = WriteJSON(w, http.StatusCreated, map[string]any{"success": true, "team_id": "t1"})
	}))
	defer srv.Close()

	var out struct {
		Success bool   `json:"success"`
		TeamID  string `json:"team_id"`
	}
	c := NewClient(srv.URL, nil)
	require.NoError(t, c.Post(context.Background(), "/create", map[string]string{"team_id": "t1"}, &out))
	require.True(t, out.Success)
	require.Equal(t, "t1", out.TeamID)
}

func TestClient_ContextCancelled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewClient(srv.URL, srv.Client()).Get(ctx, "/slow", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestClient_SendsRequestID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(RequestIDHeader) != "req-42" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	ctx := WithRequestID(context.Background(), "req-42")
	err := NewClient(srv.URL, srv.Client()).Post(ctx, "/create", map[string]string{}, nil)
	require.ErrorIs(t, err, ErrConflict)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, "req-42", httpErr.RequestID)
	require.Contains(t, err.Error(), "(request req-42)")
}

func TestLoggingMiddleware_LogsRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	h := LoggingMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/leaderboard/team/t1", nil)
	req.Header.Set(RequestIDHeader, "req-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterField(zap.String("request_id", "req-7")).All()
	require.Len(t, entries, 1)
	require.Equal(t, http.StatusNoContent, int(entries[0].ContextMap()["status"].(int64)))
}

func TestWriteError_Envelope(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteConflict(rec, "dup")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"success":false,"error":"dup","code":409}`, rec.Body.String())
}
