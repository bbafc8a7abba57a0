package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestHTTPSink_Send(t *testing.T) {
	var mu sync.Mutex
	var received []Event

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}

		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode body: %v", err)
		}
		// Collectors key on exactly these three fields.
		for _, key := range []string{"type", "data", "timestamp"} {
			if _, ok := raw[key]; !ok {
				t.Errorf("wire payload missing %q key", key)
			}
		}

		var e Event
		if err := json.Unmarshal(mustMarshal(t, raw), &e); err != nil {
			t.Errorf("decode event: %v", err)
		}
		mu.Lock()
		received = append(received, e)
		mu.Unlock()

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(DefaultHTTPSinkConfig(server.URL))
	defer sink.Close()

	event := Event{
		Type:      EventParticipation,
		Data:      map[string]any{"experiment": "exp-1", "variant": "treatment"},
		Timestamp: 1700000000000,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("collector received %d events, want 1", len(received))
	}
	got := received[0]
	if got.Type != EventParticipation || got.Timestamp != 1700000000000 {
		t.Errorf("received event = %+v", got)
	}
	if got.Data["experiment"] != "exp-1" {
		t.Errorf("experiment field = %v", got.Data["experiment"])
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewHTTPSink(DefaultHTTPSinkConfig(server.URL))
	defer sink.Close()

	if err := sink.Send(context.Background(), Event{Type: EventConversion}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestHTTPSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // shut down before sending

	sink := NewHTTPSink(DefaultHTTPSinkConfig(server.URL))
	defer sink.Close()

	if err := sink.Send(context.Background(), Event{Type: EventConversion}); err == nil {
		t.Error("expected error for unreachable collector")
	}
}
