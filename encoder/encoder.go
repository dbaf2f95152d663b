package encoder

import (
	"fmt"
	"os"
	"time"

	"echoengine/audio"
)

const BlockSize = 4096

// EncodeChunk compresses a mono chunk into an in-memory FLAC stream.
func EncodeChunk(c audio.Chunk) ([]byte, error) {
	if c.Channels != 1 {
		return nil, fmt.Errorf("flac: %d channels not supported", c.Channels)
	}
	enc, err := NewFlac(c.SampleRate)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	samples := c.Samples()
	for i := 0; i < len(samples); i += BlockSize {
		if err := enc.EncodeBlock(samples[i:min(i+BlockSize, len(samples))]); err != nil {
			return nil, err
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing flac encoder: %w", err)
	}
	enc.encodeTime = time.Since(start)
	return enc.Bytes(), nil
}

// WriteFLACFile writes the chunk as FLAC to path.
func WriteFLACFile(path string, c audio.Chunk) error {
	data, err := EncodeChunk(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
