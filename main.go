package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"golang.org/x/term"

	"echoengine/audio"
	"echoengine/beep"
	"echoengine/config"
	"echoengine/doctor"
	"echoengine/log"
	"echoengine/metrics"
	"echoengine/recognizer"
	"echoengine/session"
	"echoengine/shutdown"
	"echoengine/synthesis"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "YAML config file")
	backendFlag := flag.String("backend", "", "Recognition backend: cloud, os, local or batch")
	langFlag := flag.String("lang", "", "Recognition language tag (e.g. en, ko, en-US)")
	wavFlag := flag.String("wav", "", "Recognize a WAV file instead of the microphone and exit")
	speakFlag := flag.String("speak", "", "Synthesize and play text, then exit")
	doctorFlag := flag.Bool("doctor", false, "Run pre-flight checks and exit")
	setupFlag := flag.Bool("setup", false, "Select microphone device (otherwise uses system default)")
	deviceFlag := flag.String("device", "", "Use named microphone device")
	metricsFlag := flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	noBeepFlag := flag.Bool("nobeep", false, "Disable start/stop cues")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("echoengine %s\n", version)
		return 0
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if *langFlag != "" {
		cfg.Language = *langFlag
	}
	if *deviceFlag != "" {
		cfg.Device = *deviceFlag
	}
	if *metricsFlag != "" {
		cfg.Telemetry.PrometheusBind = *metricsFlag
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logDir := *logPathFlag
	if logDir == "" {
		logDir = cfg.Telemetry.LogDir
	}
	logPath, err := log.ResolveDir(logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}
	initCrashLog()
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	var actx audio.Context
	if *wavFlag != "" {
		actx, err = audio.NewFakeContextFromWAV(*wavFlag, true)
	} else {
		actx, err = audio.NewContext()
	}
	if err != nil {
		if *doctorFlag {
			fmt.Fprintf(os.Stderr, "Warning: audio unavailable: %v\n", err)
			return doctor.Run(os.Stdout, cfg, nil)
		}
		log.Errorf("audio context init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		return 1
	}
	defer actx.Close()

	if *doctorFlag {
		return doctor.Run(os.Stdout, cfg, actx)
	}

	if *setupFlag && cfg.Device == "" && *wavFlag == "" {
		dev, err := audio.SelectDevice(actx)
		if err != nil {
			log.Warnf("device selection failed: %v", err)
			fmt.Printf("Warning: device selection failed: %v\nFalling back to default device\n", err)
		} else if dev != nil {
			cfg.Device = dev.Name
		}
	}

	var m *metrics.Metrics
	if cfg.Telemetry.PrometheusBind != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Telemetry.PrometheusBind); err != nil {
				log.Errorf("metrics server: %v", err)
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	console := newConsoleSink(os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
	var sinks []session.StatusSink
	sinks = append(sinks, console)
	if m != nil {
		sinks = append(sinks, m)
	}
	status := session.NewDispatcher(sinks...)
	defer status.Close()

	synth, voice := newSynthesis(cfg, actx, status)

	if *speakFlag != "" {
		return speakOnce(ctx, synth, voice, *speakFlag, status)
	}

	backend, err := recognizer.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cues := beep.New(actx)
	if *noBeepFlag || *wavFlag != "" {
		cues.Disable()
	}
	defer cues.Wait()

	opts := session.Options{
		Config:  cfg,
		Audio:   actx,
		Backend: backend,
		Sink:    status,
		Cues:    cues,
	}
	if m != nil {
		opts.Observer = m
	}
	orch := session.New(opts)

	if *wavFlag != "" {
		return recognizeFile(ctx, orch, actx.(*audio.FakeContext), status)
	}

	d := &driver{rec: orch, synth: synth, voice: voice, out: os.Stdout}
	fmt.Printf("echoengine %s [%s | %s]\n", version, backend.Describe().Name, cfg.Language)
	fmt.Println(driverHelp)
	if err := d.run(ctx, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	status.Flush()
	return 0
}

// newSynthesis returns a nil controller when no synthesis command is
// configured.
func newSynthesis(cfg config.Config, actx audio.Context, sink synthesis.Sink) (*synthesis.Controller, synthesis.Request) {
	voice := synthesis.Request{
		Voice:  cfg.Synthesis.Voice,
		Locale: cfg.Synthesis.Locale,
		Rate:   cfg.Synthesis.Rate,
		Volume: cfg.Synthesis.Volume,
	}
	engine, err := synthesis.NewExecEngine(cfg.Synthesis)
	if err != nil {
		log.Infof("synthesis disabled: %v", err)
		return nil, voice
	}
	return synthesis.NewController(engine, actx, sink), voice
}

func speakOnce(ctx context.Context, synth *synthesis.Controller, voice synthesis.Request, text string, status *session.Dispatcher) int {
	if synth == nil {
		fmt.Fprintln(os.Stderr, "Error: no synthesis command configured")
		return 1
	}
	voice.Text = text
	if err := synth.Speak(ctx, voice); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	select {
	case <-synth.Done():
	case <-ctx.Done():
		synth.Cancel()
	}
	status.Flush()
	return 0
}

// recognizeFile replays the WAV at capture speed, then stops the session
// and prints the transcript.
func recognizeFile(ctx context.Context, orch *session.Orchestrator, fake *audio.FakeContext, status *session.Dispatcher) int {
	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	var audioDone <-chan struct{}
	if caps := fake.Captures(); len(caps) > 0 {
		audioDone = caps[len(caps)-1].AudioDone()
	}
	select {
	case <-audioDone:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := orch.Stop(stopCtx)
	status.Flush()
	fmt.Println(orch.Transcript())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// initCrashLog routes runtime crash output to the log directory.
func initCrashLog() {
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	f, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}
