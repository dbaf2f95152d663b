package recognizer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"echoengine/config"
)

// fakeListen mimics the live transcription endpoint: the first audio
// message yields a partial and a final, Finalize yields one more final.
func fakeListen(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token good-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("encoding") != "linear16" || r.URL.Query().Get("language") != "en" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		sentAudio := false
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			switch {
			case typ == websocket.MessageBinary && !sentAudio:
				sentAudio = true
				c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","channel":{"alternatives":[{"transcript":"hel","confidence":0.4}]}}`))
				c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello world","confidence":0.93}]}}`))
			case typ == websocket.MessageText && strings.Contains(string(data), "Finalize"):
				c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","from_finalize":true,"channel":{"alternatives":[{"transcript":"tail","confidence":0.8}]}}`))
			case typ == websocket.MessageText && strings.Contains(string(data), "CloseStream"):
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type collector struct {
	mu    sync.Mutex
	frags []Fragment
}

func (c *collector) emit(f Fragment) {
	c.mu.Lock()
	c.frags = append(c.frags, f)
	c.mu.Unlock()
}

func (c *collector) snapshot() []Fragment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Fragment(nil), c.frags...)
}

func (c *collector) waitFor(t *testing.T, n int) []Fragment {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("got %d fragments, want %d: %+v", len(c.snapshot()), n, c.snapshot())
	return nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCloudStreamsFragments(t *testing.T) {
	srv := fakeListen(t)
	c, err := NewCloud(config.CloudConfig{APIKey: "good-key", Endpoint: wsURL(srv)}, "en")
	if err != nil {
		t.Fatal(err)
	}
	var col collector
	if err := c.Start(context.Background(), col.emit); err != nil {
		t.Fatalf("Start: %v", err)
	}
	frags, err := c.Recognize(context.Background(), speechChunk(0))
	if err != nil || frags != nil {
		t.Fatalf("Recognize = %+v, %v", frags, err)
	}

	got := col.waitFor(t, 2)
	if got[0].Kind != Partial || got[0].Text != "hel" {
		t.Errorf("first = %+v, want partial hel", got[0])
	}
	if got[1].Kind != Final || got[1].Text != "hello world" {
		t.Errorf("second = %+v, want final hello world", got[1])
	}
	if got[1].Confidence == nil || *got[1].Confidence != 0.93 {
		t.Errorf("confidence = %v", got[1].Confidence)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got = col.snapshot()
	if last := got[len(got)-1]; last.Text != "tail" || last.Kind != Final {
		t.Errorf("finalize result = %+v, want final tail", last)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestCloudAuthErrors(t *testing.T) {
	srv := fakeListen(t)
	tests := []struct {
		name string
		key  string
	}{
		{"empty key", "  "},
		{"rejected key", "bad-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := NewCloud(config.CloudConfig{APIKey: tt.key, Endpoint: wsURL(srv)}, "en")
			err := c.Start(context.Background(), func(Fragment) {})
			if !errors.Is(err, ErrAuth) {
				t.Fatalf("Start = %v, want ErrAuth", err)
			}
			if KindName(err) != "AuthError" {
				t.Errorf("KindName = %q", KindName(err))
			}
		})
	}
}

func TestCloudNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	c, _ := NewCloud(config.CloudConfig{APIKey: "k", Endpoint: url}, "en")
	if err := c.Start(context.Background(), func(Fragment) {}); !errors.Is(err, ErrNetwork) {
		t.Fatalf("Start = %v, want ErrNetwork", err)
	}
}

func TestCloudNotStarted(t *testing.T) {
	c, _ := NewCloud(config.CloudConfig{APIKey: "k"}, "en")
	if _, err := c.Recognize(context.Background(), speechChunk(0)); !errors.Is(err, ErrNetwork) {
		t.Errorf("Recognize = %v, want ErrNetwork", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("Stop on idle backend: %v", err)
	}
}

func TestCloudEndpointQuery(t *testing.T) {
	c, _ := NewCloud(config.CloudConfig{Endpoint: "wss://example.test/v1/listen", Model: "nova-2"}, "fr")
	got := c.endpoint()
	for _, want := range []string{"model=nova-2", "encoding=linear16", "sample_rate=16000", "channels=1", "interim_results=true", "language=fr"} {
		if !strings.Contains(got, want) {
			t.Errorf("endpoint %q missing %q", got, want)
		}
	}
}
