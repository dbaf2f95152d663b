package audio

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWAVFileRoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	chunk := NewChunk(3, Int16ToBytes(samples), CaptureFormat)

	path := filepath.Join(t.TempDir(), "chunk.wav")
	if err := WriteWAVFile(path, chunk); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(WAVHeaderSize+len(chunk.PCM)) {
		t.Errorf("file size = %d, want %d", info.Size(), WAVHeaderSize+len(chunk.PCM))
	}

	got, err := ReadWAVFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != SampleRate || got.Channels != Channels {
		t.Errorf("format = %d/%d", got.SampleRate, got.Channels)
	}
	gs := got.Samples()
	for i := range samples {
		if gs[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, gs[i], samples[i])
		}
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(path, []byte("definitely not riff data, just text"), 0o644)
	if _, err := ReadWAVFile(path); err == nil {
		t.Fatal("expected error for non-wav input")
	}
}

func TestChunkDuration(t *testing.T) {
	c := NewChunk(0, make([]byte, 64000), CaptureFormat)
	if c.Duration.Seconds() != 2 {
		t.Fatalf("duration = %v, want 2s", c.Duration)
	}
	if c.Empty() {
		t.Fatal("chunk should not be empty")
	}
}
