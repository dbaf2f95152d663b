package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrNotWAV = errors.New("not a valid wav file")

// WriteWAV writes 16-bit PCM as a RIFF/WAV stream.
func WriteWAV(w io.WriteSeeker, pcm []byte, f Format) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	samples := make([]int, len(pcm)/2)
	for i, s := range BytesToInt16(pcm) {
		samples[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           samples,
		SourceBitDepth: BitsPerSample,
	}

	enc := wav.NewEncoder(w, f.SampleRate, BitsPerSample, f.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates path and writes the chunk into it.
func WriteWAVFile(path string, c Chunk) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, c.PCM, c.Format()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// DecodeWAV reads a complete WAV stream into samples. Only 16-bit PCM is
// accepted; other depths are rescaled.
func DecodeWAV(r io.ReadSeeker) ([]int16, Format, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, Format{}, ErrNotWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("decode wav: %w", err)
	}
	f := Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}

	shift := int(dec.BitDepth) - BitsPerSample
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case shift > 0:
			v >>= shift
		case shift < 0:
			v <<= -shift
		}
		out[i] = int16(v)
	}
	return out, f, nil
}

// ReadWAVFile loads a WAV file as a chunk of raw PCM.
func ReadWAVFile(path string) (Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return Chunk{}, err
	}
	defer f.Close()
	samples, format, err := DecodeWAV(f)
	if err != nil {
		return Chunk{}, fmt.Errorf("%s: %w", path, err)
	}
	return NewChunk(0, Int16ToBytes(samples), format), nil
}
