package process

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	xunicode "golang.org/x/text/encoding/unicode"
)

func TestExtractTextFromSRT(t *testing.T) {
	for _, tt := range []struct {
		name, in, want string
	}{
		{"plain", "hello world", "hello world"},
		{"srt", "1\n00:00:00,000 --> 00:00:02,000\nhello\n\n2\n00:00:02,000 --> 00:00:04,000\nworld\n", "hello world"},
		{"bracketed timestamps", "[00:00:00.000 --> 00:00:02.000]  hi there\n", ""},
		{"crlf", "1\r\n00:00:00,000 --> 00:00:01,000\r\n안녕하세요\r\n", "안녕하세요"},
		{"blank audio", "[BLANK_AUDIO]", ""},
		{"multi line plain", " first line \nsecond line", "first line second line"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractTextFromSRT(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLooksLikeNoise(t *testing.T) {
	for _, tt := range []struct {
		line  string
		noise bool
	}{
		{"whisper_init_from_file: loading model", true},
		{"system_info: n_threads = 4", true},
		{"ggml_metal: GPU name Apple M1", true},
		{"error: failed to open", true},
		{"12", true},
		{"a", true},
		{`{"text": "hi"}`, true},
		{"00:00:00,000 --> 00:00:02,000", true},
		{"the weather is nice today", false},
		{"error in the text box", false},
	} {
		t.Run(tt.line, func(t *testing.T) {
			if got := LooksLikeNoise(tt.line); got != tt.noise {
				t.Errorf("LooksLikeNoise(%q) = %v, want %v", tt.line, got, tt.noise)
			}
		})
	}
}

func TestScanJSONText(t *testing.T) {
	for _, tt := range []struct {
		name, in, want string
		ok             bool
	}{
		{"valid", `{"text": "hello world"}`, "hello world", true},
		{"escapes", `{"text":"line\nbreak \"quoted\""}`, "line\nbreak \"quoted\"", true},
		{"truncated", `{"text": "unterminated`, "", false},
		{"missing", `{"partial": "x"}`, "", false},
		{"non string", `{"text": 42}`, "", false},
		{"embedded in noise", `log line {"result": 1, "text" : "  found "} tail`, "found", true},
		{"empty", `{"text": ""}`, "", true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ScanJSONText(tt.in, "text")
			if got != tt.want || ok != tt.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.txt")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeText(t *testing.T) {
	utf16, _ := xunicode.UTF16(xunicode.LittleEndian, xunicode.UseBOM).NewEncoder().String("héllo")
	euckr, _ := korean.EUCKR.NewEncoder().String("안녕하세요")
	cp1252, _ := charmap.Windows1252.NewEncoder().String("café")

	for _, tt := range []struct {
		name string
		in   []byte
		want string
	}{
		{"utf8", []byte("  plain text \n"), "plain text"},
		{"utf8 bom", append([]byte{0xEF, 0xBB, 0xBF}, "bom text"...), "bom text"},
		{"utf16 bom", []byte(utf16), "héllo"},
		{"euc-kr", []byte(euckr), "안녕하세요"},
		{"windows-1252", []byte(cp1252), "café"},
		{"empty", nil, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractTextPriority(t *testing.T) {
	noisy := Result{
		Stdout: []byte("whisper_init: loading model\nsystem_info: threads=4\n"),
		Stderr: []byte("main: processing audio\n"),
	}

	t.Run("file wins", func(t *testing.T) {
		path := writeFile(t, []byte("from file\n"))
		r := Result{Stdout: []byte("from stdout")}
		if got := ExtractText(path, r); got != "from file" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("missing file falls back to stdout", func(t *testing.T) {
		r := Result{Stdout: []byte("loading model\n[00:00.000 --> 00:02.000] spoken words\n")}
		if got := ExtractText(filepath.Join(t.TempDir(), "none.txt"), r); got != "spoken words" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("empty file falls back to stderr", func(t *testing.T) {
		path := writeFile(t, []byte("  \n"))
		r := Result{Stdout: noisy.Stdout, Stderr: []byte("processing\nfrom stderr\n")}
		if got := ExtractText(path, r); got != "from stderr" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("json field last", func(t *testing.T) {
		r := Result{Stdout: []byte(`{"text": "json text"}`)}
		if got := ExtractText("", r); got != "json text" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("noise only is empty", func(t *testing.T) {
		if got := ExtractText("", noisy); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
	t.Run("whisper stderr on silence is empty", func(t *testing.T) {
		path := writeFile(t, nil)
		r := Result{
			Stdout: []byte(" [BLANK_AUDIO]\n"),
			Stderr: []byte(whisperStderr),
		}
		if got := ExtractText(path, r); got != "" {
			t.Errorf("got %q, want empty", got)
		}
	})
	t.Run("srt lines on stdout", func(t *testing.T) {
		r := Result{Stdout: []byte("00:00:01,000 --> 00:00:02,000\nHello there\n")}
		if got := ExtractText("", r); got != "Hello there" {
			t.Errorf("got %q, want %q", got, "Hello there")
		}
	})
	t.Run("speech with a colon survives", func(t *testing.T) {
		r := Result{Stdout: []byte("[00:00.000 --> 00:02.000] Note: buy milk\n")}
		if got := ExtractText("", r); got != "Note: buy milk" {
			t.Errorf("got %q", got)
		}
	})
	t.Run("korean file", func(t *testing.T) {
		data, _ := korean.EUCKR.NewEncoder().Bytes([]byte("오늘 날씨"))
		path := writeFile(t, data)
		if got := ExtractText(path, Result{}); got != "오늘 날씨" {
			t.Errorf("got %q", got)
		}
	})
}

const whisperStderr = `whisper_init_from_file_with_params_no_state: loading model from 'models/ggml-base.bin'
whisper_model_load: n_vocab       = 51865
whisper_model_load: n_audio_ctx   = 1500
whisper_init_state: kv self size  =    6.29 MB
system_info: n_threads = 4 / 8 | AVX = 1 | AVX2 = 1 | FMA = 1 |
main: processing 'chunk-3.wav' (16000 samples, 1.0 sec), 4 threads, 1 processors, 5 beams + best of 5, lang = en, task = transcribe, timestamps = 0 ...
output_txt: saving output to '/tmp/echoengine-batch-1/chunk-3.txt'
whisper_print_timings:     load time =    51.23 ms
whisper_print_timings:    total time =   412.77 ms
`
