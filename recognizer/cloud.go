package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"echoengine/audio"
	"echoengine/config"
	"echoengine/log"
)

const (
	cloudChunkMs      = 200
	cloudFinalizeWait = time.Second
	cloudRecvDrain    = 2 * time.Second
)

type cloudResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Cloud streams PCM to a Deepgram-compatible live endpoint over one
// websocket for the whole session. Chunk boundaries do not matter to it.
type Cloud struct {
	cfg  config.CloudConfig
	lang string

	mu        sync.Mutex
	conn      *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
	recvDone  chan struct{}
	finalized chan struct{}
	closing   bool
	err       error
}

func NewCloud(cfg config.CloudConfig, lang string) (*Cloud, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "wss://api.deepgram.com/v1/listen"
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("cloud endpoint: %w", err)
	}
	return &Cloud{cfg: cfg, lang: lang}, nil
}

func (c *Cloud) Describe() Descriptor {
	return Descriptor{Name: config.BackendCloud, Streaming: true, PartialResults: true, NetworkCredentials: true}
}

func (c *Cloud) endpoint() string {
	u, _ := url.Parse(c.cfg.Endpoint)
	q := u.Query()
	model := c.cfg.Model
	if model == "" {
		model = "nova-3"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	q.Set("channels", strconv.Itoa(audio.Channels))
	q.Set("interim_results", "true")
	if c.lang != "" {
		q.Set("language", c.lang)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Cloud) Start(ctx context.Context, emit func(Fragment)) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return newError(ErrAuth, "no api key configured", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+c.cfg.APIKey)

	streamCtx, cancel := context.WithCancel(context.Background())
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	defer dialCancel()
	conn, resp, err := websocket.Dial(dialCtx, c.endpoint(), &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return newError(ErrAuth, resp.Status, err)
		}
		return newError(ErrNetwork, "dial", err)
	}
	conn.SetReadLimit(1 << 20)

	c.conn = conn
	c.ctx = streamCtx
	c.cancel = cancel
	c.recvDone = make(chan struct{})
	c.finalized = make(chan struct{})
	c.closing = false
	c.err = nil

	go c.runReceiver(streamCtx, conn, c.recvDone, c.finalized, emit)
	return nil
}

func (c *Cloud) runReceiver(ctx context.Context, conn *websocket.Conn, done, finalized chan struct{}, emit func(Fragment)) {
	defer close(done)
	var finOnce sync.Once
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			if !c.closing {
				c.err = newError(ErrNetwork, "stream closed", err)
				log.Warnf("cloud receiver: %v", err)
			}
			c.mu.Unlock()
			return
		}

		var resp cloudResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Warnf("cloud: bad message: %v", err)
			continue
		}
		if resp.FromFinalize {
			finOnce.Do(func() { close(finalized) })
		}
		if len(resp.Channel.Alternatives) == 0 {
			continue
		}
		alt := resp.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}

		kind := Partial
		if resp.IsFinal || resp.SpeechFinal || resp.FromFinalize {
			kind = Final
		}
		emit(Fragment{Text: text, Kind: kind, Confidence: confidence(alt.Confidence), Language: c.lang})
	}
}

// Recognize forwards the chunk in short slices and returns no fragments;
// results arrive through the emit callback.
func (c *Cloud) Recognize(ctx context.Context, chunk audio.Chunk) ([]Fragment, error) {
	c.mu.Lock()
	conn, streamCtx, sessionErr := c.conn, c.ctx, c.err
	c.mu.Unlock()
	if sessionErr != nil {
		return nil, sessionErr
	}
	if conn == nil {
		return nil, newError(ErrNetwork, "stream not started", nil)
	}

	step := audio.CaptureFormat.BytesPerSecond() * cloudChunkMs / 1000
	for off := 0; off < len(chunk.PCM); off += step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(off+step, len(chunk.PCM))
		if err := conn.Write(streamCtx, websocket.MessageBinary, chunk.PCM[off:end]); err != nil {
			return nil, newError(ErrNetwork, "send audio", err)
		}
	}
	return nil, nil
}

// Stop asks the server to flush pending results, waits briefly for them,
// and closes the socket. Errors from an already-closed socket are ignored.
func (c *Cloud) Stop() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	streamCtx, cancel, recvDone, finalized := c.ctx, c.cancel, c.recvDone, c.finalized
	c.mu.Unlock()

	if err := conn.Write(streamCtx, websocket.MessageText, []byte(`{"type":"Finalize"}`)); err == nil {
		select {
		case <-finalized:
		case <-recvDone:
		case <-time.After(cloudFinalizeWait):
		}
	}

	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	_ = conn.Write(streamCtx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))

	err := conn.Close(websocket.StatusNormalClosure, "")
	select {
	case <-recvDone:
	case <-time.After(cloudRecvDrain):
		log.Warn("cloud receiver drain timeout")
	}
	cancel()

	var ce websocket.CloseError
	if err != nil && !errors.As(err, &ce) && !errors.Is(err, context.Canceled) {
		log.Warnf("cloud close: %v", err)
	}
	return nil
}
