package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/umflabs/wabridge/pkg/status"
	"github.com/umflabs/wabridge/pkg/umf"
)

func testEnvelope(t *testing.T) *umf.Message {
	t.Helper()
	env := umf.New(umf.TypeRequest)
	env.Content = []umf.ContentBlock{{Type: umf.ContentText, Data: "Hello, agent!"}}
	return env
}

func TestForward_Delivered(t *testing.T) {
	var gotChannel, gotMessageID string
	var gotBody umf.Message

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChannel = r.Header.Get("X-UMF-Channel")
		gotMessageID = r.Header.Get("X-UMF-Message-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","data":"Hi there!"}]}`))
	}))
	defer srv.Close()

	rec := status.NewRecord("+10000000000", srv.URL)
	c := NewClient(srv.URL, "whatsapp", 5*time.Second, rec)
	env := testEnvelope(t)

	res := c.Forward(context.Background(), env)
	if res.Outcome != Delivered {
		t.Fatalf("outcome = %s, want delivered", res.Outcome)
	}
	if res.Text != "Hi there!" {
		t.Errorf("text = %q", res.Text)
	}
	if gotChannel != "whatsapp" || gotMessageID != env.ID {
		t.Errorf("headers = %q / %q", gotChannel, gotMessageID)
	}
	if gotBody.ID != env.ID {
		t.Errorf("posted envelope id = %q, want %q", gotBody.ID, env.ID)
	}
	if rec.Snapshot().Forwarded != 1 {
		t.Errorf("forwarded counter = %d, want 1", rec.Snapshot().Forwarded)
	}
}

func TestForward_MalformedResponse(t *testing.T) {
	cases := []string{
		`{"content":[]}`,
		`{"content":[{"type":"json","data":{"k":"v"}}]}`,
		`{}`,
		`not json at all`,
	}
	for _, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		rec := status.NewRecord("+10000000000", srv.URL)
		c := NewClient(srv.URL, "whatsapp", 5*time.Second, rec)
		res := c.Forward(context.Background(), testEnvelope(t))
		srv.Close()

		if res.Outcome != Malformed {
			t.Errorf("body %q: outcome = %s, want malformed", body, res.Outcome)
		}
		if rec.Snapshot().Forwarded != 0 {
			t.Errorf("body %q: counter should not move on malformed reply", body)
		}
	}
}

func TestForward_ConnectionRefused(t *testing.T) {
	// Grab a port that nothing is listening on.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	rec := status.NewRecord("+10000000000", url)
	c := NewClient(url, "whatsapp", 2*time.Second, rec)

	res := c.Forward(context.Background(), testEnvelope(t))
	if res.Outcome != Unavailable {
		t.Fatalf("outcome = %s, want unavailable", res.Outcome)
	}
	if rec.Snapshot().Forwarded != 0 {
		t.Error("counter should not move when gateway is down")
	}
}

func TestForward_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		srv.Close()
	}()

	c := NewClient(srv.URL, "whatsapp", 100*time.Millisecond, nil)
	start := time.Now()
	res := c.Forward(context.Background(), testEnvelope(t))
	if res.Outcome != Unavailable {
		t.Fatalf("outcome = %s, want unavailable", res.Outcome)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound the call")
	}
}

func TestForward_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "whatsapp", 5*time.Second, nil)
	if res := c.Forward(context.Background(), testEnvelope(t)); res.Outcome != Unavailable {
		t.Fatalf("outcome = %s, want unavailable", res.Outcome)
	}
}
