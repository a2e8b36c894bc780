package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendSignsBody(t *testing.T) {
	var gotSig, gotTS, gotDelivery string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-LegacyVault-Signature")
		gotTS = r.Header.Get("X-LegacyVault-Timestamp")
		gotDelivery = r.Header.Get("X-LegacyVault-Delivery")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(time.Second, "shh", nil)
	require.NoError(t, c.Send(context.Background(), srv.URL, "d-1", map[string]string{"switch_id": "sw-1"}))

	assert.Equal(t, "d-1", gotDelivery)
	assert.JSONEq(t, `{"switch_id":"sw-1"}`, string(gotBody))

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(gotTS + "."))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)
}

func TestClient_ClientErrorIsNotRetryable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	c := NewClient(time.Second, "", nil)
	err := c.Send(context.Background(), srv.URL, "d-2", map[string]string{})

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusGone, se.StatusCode)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), hits.Load())
}
