package process

import (
	"bytes"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	xunicode "golang.org/x/text/encoding/unicode"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// fallbackEncodings are tried in order for output that is not valid UTF-8.
var fallbackEncodings = []encoding.Encoding{
	korean.EUCKR,
	charmap.Windows1252,
}

var noisePrefixes = []string{"whisper", "model", "loading", "processing", "system", "using"}
var noiseWords = []string{"gpu", "cpu", "thread", "memory"}

// engineTag matches diagnostics tagged with the emitting function, such as
// "main: ...", "output_txt: ..." or "whisper_model_load: ...".
var engineTag = regexp.MustCompile(`^(main|[a-z0-9]+(_[a-z0-9]+)+):\s`)

// ExtractText recovers recognized text from a finished batch run. The
// output file wins, then stdout, then stderr, then a "text" field found
// anywhere in the raw output. Output that is only diagnostics yields "".
func ExtractText(outputFile string, r Result) string {
	if outputFile != "" {
		if data, err := os.ReadFile(outputFile); err == nil {
			if text := ExtractTextFromSRT(DecodeText(data)); text != "" {
				return text
			}
		}
	}
	if text := ExtractFromOutput(string(r.Stdout)); text != "" {
		return text
	}
	if text := ExtractFromOutput(string(r.Stderr)); text != "" {
		return text
	}
	if text, ok := ScanJSONText(string(r.Stdout), "text"); ok && text != "" {
		return text
	}
	if text, ok := ScanJSONText(string(r.Stderr), "text"); ok {
		return text
	}
	return ""
}

// DecodeText turns raw bytes of unknown encoding into a string, honoring a
// byte order mark when present.
func DecodeText(data []byte) string {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return strings.TrimSpace(string(data[len(bomUTF8):]))
	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		dec := xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			return strings.TrimSpace(string(out))
		}
	}
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data))
	}
	for _, enc := range fallbackEncodings {
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil || bytes.ContainsRune(out, utf8.RuneError) {
			continue
		}
		if text := strings.TrimSpace(string(out)); text != "" {
			return text
		}
	}
	return ""
}

// ExtractTextFromSRT drops sequence numbers and timestamp lines and joins
// the remaining lines with single spaces. Plain text passes through.
func ExtractTextFromSRT(content string) string {
	var lines []string
	skipNext := false
	for _, line := range splitLines(content) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			skipNext = false
			continue
		}
		if isInteger(trimmed) {
			skipNext = true
			continue
		}
		if strings.Contains(trimmed, "-->") || (strings.HasPrefix(trimmed, "[") && strings.Contains(trimmed, "]")) {
			skipNext = false
			continue
		}
		if !skipNext {
			lines = append(lines, trimmed)
		}
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// ExtractFromOutput keeps the lines of console output that look like
// recognized speech.
func ExtractFromOutput(output string) string {
	var lines []string
	for _, line := range splitLines(output) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			// [00:00.000 --> 00:02.000] prefix
			end := strings.IndexByte(trimmed, ']')
			if end <= 0 || end >= len(trimmed)-1 {
				continue
			}
			trimmed = strings.TrimSpace(trimmed[end+1:])
		}
		if trimmed == "" || LooksLikeNoise(trimmed) {
			continue
		}
		if meaningful(trimmed) {
			lines = append(lines, trimmed)
		}
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// LooksLikeNoise reports whether a console line is engine diagnostics
// rather than speech.
func LooksLikeNoise(line string) bool {
	trimmed := strings.TrimSpace(line)
	if utf8.RuneCountInString(trimmed) < 2 {
		return true
	}
	lower := strings.ToLower(trimmed)
	if engineTag.MatchString(lower) {
		return true
	}
	for _, p := range noisePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	for _, w := range noiseWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	if strings.Contains(lower, "error") && !strings.Contains(lower, "text") {
		return true
	}
	// structured output is left to ScanJSONText
	if strings.HasPrefix(trimmed, "{") {
		return true
	}
	if strings.Contains(trimmed, "-->") && strings.ContainsAny(trimmed, ":,") {
		return true
	}
	if isInteger(trimmed) && len(trimmed) < 5 {
		return true
	}
	return false
}

// ScanJSONText finds the first string value of "key" in s without
// requiring s to be valid JSON. ok is false when the key is absent or its
// value is not a string.
func ScanJSONText(s, key string) (string, bool) {
	needle := `"` + key + `"`
	idx := strings.Index(s, needle)
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimLeftFunc(s[idx+len(needle):], unicode.IsSpace)
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	rest = strings.TrimLeftFunc(rest[1:], unicode.IsSpace)
	if !strings.HasPrefix(rest, `"`) {
		return "", false
	}

	escaped := false
	for i := 1; i < len(rest); i++ {
		switch {
		case escaped:
			escaped = false
		case rest[i] == '\\':
			escaped = true
		case rest[i] == '"':
			raw := rest[:i+1]
			if v, err := strconv.Unquote(raw); err == nil {
				return strings.TrimSpace(v), true
			}
			return strings.TrimSpace(unescapeLoose(raw[1 : len(raw)-1])), true
		}
	}
	return "", false
}

func unescapeLoose(s string) string {
	r := strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`, `\\`, `\`)
	return r.Replace(s)
}

func meaningful(s string) bool {
	if utf8.RuneCountInString(s) <= 1 {
		return false
	}
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isInteger(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func splitLines(s string) []string {
	return strings.Split(newlines.Replace(s), "\n")
}
