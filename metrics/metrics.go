// Package metrics exposes recognition and synthesis counters for
// Prometheus. It implements session.Observer and session.StatusSink.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"echoengine/log"
)

type Metrics struct {
	registry *prometheus.Registry

	Ticks              *prometheus.CounterVec
	ChunksDispatched   prometheus.Counter
	AudioSeconds       prometheus.Counter
	Recognitions       *prometheus.CounterVec
	RecognitionLatency *prometheus.HistogramVec
	Fragments          *prometheus.CounterVec
	States             *prometheus.CounterVec
	Errors             *prometheus.CounterVec
	TranscriptChars    prometheus.Counter
}

// New registers every metric on a private registry so tests and multiple
// instances never collide on the global one.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoengine_scheduler_ticks_total",
			Help: "Scheduler ticks by result",
		}, []string{"result"}),
		ChunksDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "echoengine_chunks_dispatched_total",
			Help: "Audio chunks handed to a recognition backend",
		}),
		AudioSeconds: f.NewCounter(prometheus.CounterOpts{
			Name: "echoengine_audio_seconds_total",
			Help: "Seconds of audio handed to a recognition backend",
		}),
		Recognitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoengine_recognitions_total",
			Help: "Recognition calls by backend and outcome",
		}, []string{"backend", "outcome"}),
		RecognitionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echoengine_recognition_duration_seconds",
			Help:    "Time spent in a single recognition call",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"backend"}),
		Fragments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoengine_fragments_total",
			Help: "Accepted recognition fragments by kind",
		}, []string{"kind"}),
		States: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoengine_state_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "echoengine_errors_total",
			Help: "Reported errors by kind",
		}, []string{"kind"}),
		TranscriptChars: f.NewCounter(prometheus.CounterOpts{
			Name: "echoengine_transcript_chars_total",
			Help: "Characters appended to transcripts",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx ends.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) TickResult(result string) {
	m.Ticks.WithLabelValues(result).Inc()
}

func (m *Metrics) ChunkDispatched(_ int, d time.Duration) {
	m.ChunksDispatched.Inc()
	m.AudioSeconds.Add(d.Seconds())
}

func (m *Metrics) RecognitionDone(backend, outcome string, elapsed time.Duration) {
	m.Recognitions.WithLabelValues(backend, outcome).Inc()
	m.RecognitionLatency.WithLabelValues(backend).Observe(elapsed.Seconds())
}

func (m *Metrics) FragmentAccepted(kind string) {
	m.Fragments.WithLabelValues(kind).Inc()
}

func (m *Metrics) OnSessionStateChanged(state string) {
	m.States.WithLabelValues(state).Inc()
}

func (m *Metrics) OnTranscriptAppended(text string) {
	m.TranscriptChars.Add(float64(len([]rune(text))))
}

func (m *Metrics) OnPartialPreview(string) {}

func (m *Metrics) OnError(kind, _ string) {
	m.Errors.WithLabelValues(kind).Inc()
}
