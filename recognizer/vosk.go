//go:build vosk

package recognizer

import (
	vosk "github.com/alphacep/vosk-api/go"
)

const LocalAvailable = true

type voskDecoder struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

func openVosk(modelPath string, sampleRate int) (Decoder, error) {
	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, err
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, err
	}
	return &voskDecoder{model: model, rec: rec}, nil
}

func (d *voskDecoder) AcceptWaveform(pcm []byte) bool { return d.rec.AcceptWaveform(pcm) != 0 }
func (d *voskDecoder) Result() string                 { return d.rec.Result() }
func (d *voskDecoder) PartialResult() string          { return d.rec.PartialResult() }
func (d *voskDecoder) FinalResult() string            { return d.rec.FinalResult() }

func (d *voskDecoder) Close() {
	d.rec.Free()
	d.model.Free()
}
