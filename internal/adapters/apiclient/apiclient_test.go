package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHTTPClient_SendsAuthHeadersAndPayload(t *testing.T) {
	var gotReq Request
	var gotAPIKey, gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("X-API-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Response{Success: true, Message: "ok"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Endpoint: "/ingest", APIKey: "key123", BearerToken: "tok456", Timeout: 5 * time.Second})

	resp, err := c.Send(context.Background(), Request{
		FileName:    "prices.csv",
		SenderEmail: "vendor@example.com",
		Subject:     "prices",
		ReceivedAt:  time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
		Data:        []map[string]any{{"sku": "A1"}},
		IsLast:      true,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, "key123", gotAPIKey)
	require.Equal(t, "Bearer tok456", gotAuth)
	require.Equal(t, "prices.csv", gotReq.FileName)
	require.True(t, gotReq.IsLast)
}

func TestHTTPClient_SuccessFalseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Success: false, Message: "validation failed"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Endpoint: "/ingest"})
	_, err := c.Send(context.Background(), Request{})
	require.Error(t, err)
}

func TestHTTPClient_NonTwoXXIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Endpoint: "/ingest"})
	_, err := c.Send(context.Background(), Request{})
	require.Error(t, err)
}

func TestHTTPClient_TimeoutIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Endpoint: "/ingest", Timeout: 5 * time.Millisecond})
	_, err := c.Send(context.Background(), Request{})
	require.Error(t, err)
}
