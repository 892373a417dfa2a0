package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OFFIS-RIT/triage/internal/util"
)

var fastRetry = util.Backoff{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}

func TestClient(t *testing.T) {
	var sendCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch r.URL.Path {
		case "/message/sendText/triage":
			// first attempt fails with a retryable status
			if sendCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			if body["number"] != "5511999990000" || body["text"] != "ok" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusCreated)
		case "/chat/getBase64FromMediaMessage/triage":
			_ = json.NewEncoder(w).Encode(map[string]string{"base64": base64.StdEncoding.EncodeToString([]byte("OggS"))})
		case "/webhook/set/triage":
			if body["url"] != "http://triage/webhook" {
				w.WriteHeader(http.StatusBadRequest)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(Params{BaseURL: srv.URL + "/", APIKey: "secret", Instance: "triage", HTTP: srv.Client(), Retry: fastRetry})
	ctx := context.Background()

	if err := c.SendText(ctx, "5511999990000", "ok"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if sendCalls.Load() != 2 {
		t.Fatalf("SendText() attempts = %d, want 2", sendCalls.Load())
	}

	audio, err := c.MediaBase64(ctx, "AUD1")
	if err != nil || string(audio) != "OggS" {
		t.Fatalf("MediaBase64() = %q, %v", audio, err)
	}

	if err := c.SetWebhook(ctx, "http://triage/webhook"); err != nil {
		t.Fatalf("SetWebhook() error = %v", err)
	}

	bad := NewClient(Params{BaseURL: srv.URL, APIKey: "wrong", Instance: "triage", HTTP: srv.Client(), Retry: fastRetry})
	err = bad.SendText(ctx, "1", "x")
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Status != http.StatusUnauthorized {
		t.Fatalf("unauthorized error = %v", err)
	}
}
