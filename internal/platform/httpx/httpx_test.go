package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestWriteErrorIncludesRequestID(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("cart_persist_failed", "cart could not be saved", http.StatusServiceUnavailable).
		WithDetails(map[string]any{"status": 1, "retryable": true}))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "cart_persist_failed" || payload["request_id"] != "req-1" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload["status"] != float64(http.StatusServiceUnavailable) {
		t.Fatalf("expected details not to override status, got %#v", payload["status"])
	}
	if payload["retryable"] != true {
		t.Fatalf("expected detail field, got %#v", payload)
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		ProductID string `json:"productId"`
		Quantity  int    `json:"quantity"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"1","quantity":2}`))
		var dst body
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.ProductID != "1" || dst.Quantity != 2 {
			t.Fatalf("unexpected body %+v", dst)
		}
	})

	t.Run("empty", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		var dst body
		if err := DecodeJSON(req, &dst); !errors.Is(err, ErrEmptyBody) {
			t.Fatalf("expected ErrEmptyBody, got %v", err)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"sku":"x"}`))
		var dst body
		if err := DecodeJSON(req, &dst); err == nil {
			t.Fatalf("expected error for unknown field")
		}
	})

	t.Run("too large", func(t *testing.T) {
		payload := `{"productId":"` + strings.Repeat("a", int(MaxBodyBytes)) + `"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		var dst body
		if err := DecodeJSON(req, &dst); !errors.Is(err, ErrBodyTooLarge) {
			t.Fatalf("expected ErrBodyTooLarge, got %v", err)
		}
	})
}
