package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cliniflow/cliniflow/internal/platform/errs"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"lead_id":"abc"}`)
	sig := SignPayload(payload, "secret")
	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected signature to verify")
	}
	if VerifySignature(payload, "wrong", sig) {
		t.Error("expected verification to fail with wrong secret")
	}
	if VerifySignature([]byte(`{"lead_id":"xyz"}`), "secret", sig) {
		t.Error("expected verification to fail for altered payload")
	}
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("https://example.com/hook"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateURL(""); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError for empty url, got %v", err)
	}
	if err := ValidateURL("ftp://example.com"); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError for ftp scheme, got %v", err)
	}
}

func TestDispatch_Success(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("topsecret", zerolog.Nop())
	delivery, err := d.Dispatch(context.Background(), srv.URL, Event{
		Type:    "lead.status_changed",
		LeadID:  "lead-1",
		Payload: json.RawMessage(`{"status":"rescheduled"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !delivery.Success || delivery.StatusCode != http.StatusOK {
		t.Errorf("unexpected delivery: %+v", delivery)
	}
	if gotSig != "sha256="+SignPayload(gotBody, "topsecret") {
		t.Error("signature header does not match payload")
	}

	logs := d.Deliveries()
	if len(logs) != 1 || !logs[0].Success {
		t.Errorf("expected 1 successful logged delivery, got %+v", logs)
	}
}

func TestDispatch_RetriesOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("", zerolog.Nop(), WithRetryDelay(time.Millisecond))
	delivery, err := d.Dispatch(context.Background(), srv.URL, Event{Type: "lead.updated"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	if delivery.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", delivery.Attempts)
	}
}

func TestDispatch_TransientAfterRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDispatcher("", zerolog.Nop(), WithRetryDelay(time.Millisecond))
	delivery, err := d.Dispatch(context.Background(), srv.URL, Event{Type: "lead.updated"})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if !errs.IsTransientDelivery(err) {
		t.Errorf("expected TransientDeliveryError, got %T", err)
	}
	if delivery == nil || delivery.Success {
		t.Errorf("unexpected delivery: %+v", delivery)
	}
}

func TestDispatch_ClientErrorIsNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDispatcher("", zerolog.Nop(), WithRetryDelay(time.Millisecond))
	_, err := d.Dispatch(context.Background(), srv.URL, Event{Type: "lead.updated"})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if errs.IsTransientDelivery(err) {
		t.Error("4xx should not be transient")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDispatch_InvalidURL(t *testing.T) {
	d := NewDispatcher("", zerolog.Nop())
	if _, err := d.Dispatch(context.Background(), "not-a-url", Event{Type: "x"}); !errs.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestDeliveryLogCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher("", zerolog.Nop(), WithLogSize(3))
	for i := 0; i < 5; i++ {
		if _, err := d.Dispatch(context.Background(), srv.URL, Event{Type: "lead.updated"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := len(d.Deliveries()); got != 3 {
		t.Errorf("expected log capped at 3, got %d", got)
	}
}
