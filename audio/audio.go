package audio

import (
	"strings"
	"time"
)

const (
	WAVHeaderSize = 44

	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureFormat is what every capture context delivers.
var CaptureFormat = Format{SampleRate: SampleRate, Channels: Channels}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * BitsPerSample / 8
}

func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// Chunk is one drained slice of captured audio. It is not modified after creation.
type Chunk struct {
	Seq        int
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

func NewChunk(seq int, pcm []byte, f Format) Chunk {
	return Chunk{
		Seq:        seq,
		PCM:        pcm,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Duration:   f.Duration(len(pcm)),
	}
}

func (c Chunk) Format() Format {
	return Format{SampleRate: c.SampleRate, Channels: c.Channels}
}

func (c Chunk) Empty() bool { return len(c.PCM) == 0 }

// Samples decodes the chunk into int16 samples.
func (c Chunk) Samples() []int16 {
	return BytesToInt16(c.PCM)
}

func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
	}
	return out
}

func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

type DataCallback func(data []byte, frameCount uint32)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	NewPlayback(f Format, src *Source) (Playback, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
}

// Playback drives one output stream fed from a Source. Done is closed once
// the source is exhausted or the stream is stopped.
type Playback interface {
	Start() error
	Stop()
	Done() <-chan struct{}
}
