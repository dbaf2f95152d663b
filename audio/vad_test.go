package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func genTone(freq float64, durationMs int) []byte {
	n := SampleRate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(16000 * math.Sin(2*math.Pi*freq*float64(i)/SampleRate))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func genSilence(durationMs int) []byte {
	return make([]byte, SampleRate*durationMs/1000*2)
}

func TestVADSilence(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	vp.Process(genSilence(200))
	if vp.VoiceDetected() {
		t.Error("expected no voice on silence")
	}
	if total, speech := vp.Stats(); total != 10 || speech != 0 {
		t.Errorf("stats = %d/%d, want 10/0", total, speech)
	}
}

func TestVADOddChunkSizes(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	// 100-byte writes do not line up with 640-byte frames
	silence := genSilence(200)
	for i := 0; i < len(silence); i += 100 {
		vp.Process(silence[i:min(i+100, len(silence))])
	}
	if vp.VoiceDetected() {
		t.Error("expected no voice on silence with odd chunks")
	}
}

func TestVADReset(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	vp.Process(genTone(440, 200))
	vp.Reset()
	if vp.VoiceDetected() {
		t.Error("expected no voice after reset")
	}
	if !vp.LastVoiceTime().IsZero() {
		t.Error("expected zero LastVoiceTime after reset")
	}
}

func TestVADHasVoiceSilentChunk(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	if vp.HasVoice(NewChunk(0, genSilence(1000), CaptureFormat)) {
		t.Error("silent chunk classified as voiced")
	}
	if total, _ := vp.Stats(); total != 0 {
		t.Error("HasVoice must not touch running totals")
	}
}

func TestVADHasVoiceOtherFormat(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	c := NewChunk(0, genSilence(100), Format{SampleRate: 44100, Channels: 2})
	if !vp.HasVoice(c) {
		t.Error("chunks the VAD cannot classify should pass through")
	}
}

func TestVADHasSpeechTickSilence(t *testing.T) {
	vp, err := NewVAD()
	if err != nil {
		t.Fatal(err)
	}
	if vp.HasSpeechTick() {
		t.Error("no frames yet, want false")
	}
	vp.Process(genSilence(100))
	if vp.HasSpeechTick() {
		t.Error("silence tick reported speech")
	}
}
