package purchases

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foundermark/friended-backend/pkg/config"
	"github.com/foundermark/friended-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test"})
}

func TestVerifySuccess(t *testing.T) {
	var gotBody verifyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		_, _ = w.Write([]byte(`{"status":0,"latest_receipt_info":[{"transaction_id":"txn-1","product_id":"com.foundermark.Friended.prosub"}]}`))
	}))
	defer server.Close()

	verifier := NewAppleVerifier(config.AppStoreConfig{
		VerifyURL:    server.URL,
		SharedSecret: "shared-secret",
	}, testLogger())

	payload, raw, err := verifier.Verify(context.Background(), "b64-receipt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payload.OK() {
		t.Fatalf("expected OK payload, got status %d", payload.Status)
	}
	if len(payload.LatestReceiptInfo) != 1 || payload.LatestReceiptInfo[0].TransactionID != "txn-1" {
		t.Fatalf("unexpected receipt info: %+v", payload.LatestReceiptInfo)
	}
	if len(raw) == 0 {
		t.Fatalf("expected raw body to be returned")
	}
	if gotBody.ReceiptData != "b64-receipt" || gotBody.Password != "shared-secret" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestVerifySandboxFallback(t *testing.T) {
	sandbox := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":0,"environment":"Sandbox"}`))
	}))
	defer sandbox.Close()

	production := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":21007}`))
	}))
	defer production.Close()

	verifier := NewAppleVerifier(config.AppStoreConfig{
		VerifyURL:        production.URL,
		SandboxVerifyURL: sandbox.URL,
	}, testLogger())

	payload, _, err := verifier.Verify(context.Background(), "b64-receipt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payload.OK() || payload.Environment != "Sandbox" {
		t.Fatalf("expected sandbox payload, got %+v", payload)
	}
}

func TestVerifyRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":0}`))
	}))
	defer server.Close()

	verifier := NewAppleVerifier(config.AppStoreConfig{
		VerifyURL:  server.URL,
		MaxRetries: 3,
	}, testLogger())

	payload, _, err := verifier.Verify(context.Background(), "b64-receipt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !payload.OK() {
		t.Fatalf("expected OK after retries, got status %d", payload.Status)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestVerifyClientErrorIsTerminal(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	verifier := NewAppleVerifier(config.AppStoreConfig{
		VerifyURL:  server.URL,
		MaxRetries: 3,
	}, testLogger())

	_, _, err := verifier.Verify(context.Background(), "b64-receipt")
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}
