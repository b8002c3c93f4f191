package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return c
}

func TestEncrypt(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/encrypt", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"sessionId":"s1","fileName":"notes","encryptedImage":{"width":2,"height":1,"pixels":[["#010203","#000000"]]}}`))
	})

	resp, err := c.Encrypt(context.Background(), "a", "notes")
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "notes", resp.FileName)
	assert.Equal(t, [][]string{{"#010203", "#000000"}}, resp.EncryptedImage.Pixels)
	assert.Equal(t, map[string]any{"text": "a", "originalFileName": "notes"}, got)

	// Typed text has no file name and is sent as null
	_, err = c.Encrypt(context.Background(), "b", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": "b", "originalFileName": nil}, got)
}

func TestPaymentCalls(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/create-payment":
			var req PaymentRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, PaymentRequest{SessionID: "s1", FileName: "notes"}, req)
			w.Write([]byte(`{"chargeId":"c 1","hostedUrl":"https://pay.example/c1"}`))
		case "/api/check-payment/c 1":
			assert.Equal(t, http.MethodGet, r.Method)
			w.Write([]byte(`{"status":"PENDING","payments":[]}`))
		case "/api/download-token":
			var req TokenRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, TokenRequest{SessionID: "s1", ChargeID: "c 1"}, req)
			w.Write([]byte(`{"tokenData":["#010101","#020202"],"fileName":"notes"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	charge, err := c.CreatePayment(ctx, "s1", "notes")
	require.NoError(t, err)
	assert.Equal(t, "c 1", charge.ChargeID)
	assert.Equal(t, "https://pay.example/c1", charge.HostedURL)

	st, err := c.CheckPayment(ctx, charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", st.Status)
	assert.False(t, st.Confirmed())

	tok, err := c.DownloadToken(ctx, "s1", charge.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"#010101", "#020202"}, tok.TokenData)
	assert.Equal(t, "notes", tok.FileName)
}

func TestConfirmed(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`{"status":"NEW","payments":[]}`, false},
		{`{"status":"PENDING"}`, false},
		{`{"status":"COMPLETED","payments":[]}`, true},
		{`{"status":"CONFIRMED","payments":[]}`, true},
		{`{"status":"PENDING","payments":[{"id":"p1"}]}`, true},
	}
	for _, tt := range tests {
		var s Status
		require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
		assert.Equal(t, tt.want, s.Confirmed(), tt.in)
	}
}

func TestTransportErrors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/download-token":
			http.Error(w, "payment not confirmed", http.StatusPaymentRequired)
		case "/api/check-payment/bad":
			w.Write([]byte(`not json`))
		default:
			http.Error(w, "no such session", http.StatusNotFound)
		}
	})
	ctx := context.Background()

	_, err := c.DownloadToken(ctx, "s1", "c1")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "download token", te.Op)
	assert.Equal(t, http.StatusPaymentRequired, te.StatusCode)
	assert.Equal(t, "payment not confirmed", te.Message)
	assert.True(t, te.Retryable())
	assert.True(t, IsStatus(err, http.StatusPaymentRequired))
	assert.EqualError(t, err, "client: download token: http 402: payment not confirmed")

	_, err = c.CreatePayment(ctx, "gone", "x")
	require.True(t, errors.As(err, &te))
	assert.False(t, te.Retryable())

	_, err = c.CheckPayment(ctx, "bad")
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusOK, te.StatusCode)
	assert.Error(t, te.Unwrap())
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)

	_, err = c.CheckPayment(context.Background(), "c1")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.StatusCode)
	assert.True(t, te.Retryable())
}

func TestEncryptTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("oversized text was sent")
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Encrypt(context.Background(), strings.Repeat("a", MaxText+1), "")
	assert.Equal(t, ErrTextTooLarge, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
	_, err = New("://nope")
	assert.Error(t, err)
}
