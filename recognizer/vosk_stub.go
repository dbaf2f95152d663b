//go:build !vosk

package recognizer

import "errors"

// LocalAvailable reports whether the vosk decoder is compiled in.
const LocalAvailable = false

func openVosk(string, int) (Decoder, error) {
	return nil, errors.New("built without vosk support (rebuild with -tags vosk)")
}
