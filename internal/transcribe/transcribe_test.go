package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestBucket(t *testing.T) {
	tests := []struct {
		mean float64
		ok   bool
		want string
	}{
		{0, false, ConfidenceUnknown},
		{-0.1, true, ConfidenceHigh},
		{-0.5, true, ConfidenceMedium},
		{-0.99, true, ConfidenceMedium},
		{-1.0, true, ConfidenceLow},
		{-3.2, true, ConfidenceLow},
	}
	for _, tt := range tests {
		if got := Bucket(tt.mean, tt.ok); got != tt.want {
			t.Errorf("Bucket(%v, %v) = %q, want %q", tt.mean, tt.ok, got, tt.want)
		}
	}
}

func TestSelect(t *testing.T) {
	for _, name := range []string{"", "none", " NONE "} {
		e, err := Select(name, Options{})
		if err != nil || e != nil {
			t.Errorf("Select(%q) = %v, %v; want nil engine", name, e, err)
		}
	}
	for _, name := range []string{"mock", "fast", "classic", "auto"} {
		e, err := Select(name, Options{})
		if err != nil || e == nil {
			t.Fatalf("Select(%q) = %v, %v", name, e, err)
		}
		if e.Name() != name {
			t.Errorf("Select(%q).Name() = %q", name, e.Name())
		}
	}
	if _, err := Select("cloud", Options{}); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestMockIsDeterministic(t *testing.T) {
	a, _ := Mock{}.Transcribe(context.Background(), "/x/voice.caf")
	b, _ := Mock{}.Transcribe(context.Background(), "/y/voice.caf")
	if a == nil || a.Transcript != b.Transcript {
		t.Fatalf("mock results differ: %+v vs %+v", a, b)
	}
	if a.Engine != EngineMock || a.Confidence != ConfidenceMock {
		t.Errorf("unexpected mock result: %+v", a)
	}
}

func TestLocalEngineUnavailable(t *testing.T) {
	models := t.TempDir()
	os.WriteFile(filepath.Join(models, "model.bin"), []byte("w"), 0o644)

	tests := []struct {
		name string
		opts Options
	}{
		{"missing binary", Options{ModelDir: models, FastBinary: "chatlift-no-such-binary"}},
		{"missing model dir", Options{ModelDir: filepath.Join(models, "absent"), FastBinary: "sh"}},
		{"empty model dir", Options{ModelDir: t.TempDir(), FastBinary: "sh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := Select(EngineFast, tt.opts)
			res, err := e.Transcribe(context.Background(), "/tmp/clip.m4a")
			if res != nil || err != nil {
				t.Fatalf("expected unavailable (nil, nil), got %+v, %v", res, err)
			}
		})
	}
}

func TestParseWhisperJSON(t *testing.T) {
	res, err := parseWhisperJSON([]byte(`{"text":"  hi there ","segments":[{"text":"hi","avg_logprob":-0.7},{"text":"there","avg_logprob":-0.9}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Transcript != "hi there" || res.Confidence != ConfidenceMedium {
		t.Errorf("unexpected result: %+v", res)
	}

	res, err = parseWhisperJSON([]byte(`{"text":"","segments":[]}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != ConfidenceUnknown {
		t.Errorf("no segments: confidence = %q", res.Confidence)
	}

	res, _ = parseWhisperJSON([]byte(`{"segments":[{"text":" a ","avg_logprob":-0.1},{"text":"b","avg_logprob":-0.1}]}`))
	if res.Transcript != "a b" || res.Confidence != ConfidenceHigh {
		t.Errorf("segment fallback: %+v", res)
	}

	if _, err := parseWhisperJSON([]byte(`not json`)); err == nil {
		t.Error("expected parse error")
	}
}

// fakeWhisper writes a shell script that mimics the whisper CLI contract.
func fakeWhisper(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
in="$1"
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--output_dir" ]; then out="$2"; shift; fi
  if [ "$1" = "--local_files_only" ] && [ "$HF_HUB_OFFLINE" != "1" ]; then echo "online" >&2; exit 3; fi
  shift
done
stem=$(basename "$in")
stem="${stem%.*}"
cat > "$out/$stem.json" <<'JSON'
` + body + `
JSON
`
	path := filepath.Join(dir, "fake-whisper")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFastEngineRunsLocalBinary(t *testing.T) {
	bin := fakeWhisper(t, `{"text":" hello from the fixture ","segments":[{"avg_logprob":-0.2},{"avg_logprob":-0.4}]}`)
	models := t.TempDir()
	os.WriteFile(filepath.Join(models, "model.bin"), []byte("w"), 0o644)

	e, err := Select(EngineFast, Options{ModelDir: models, FastBinary: bin})
	if err != nil {
		t.Fatal(err)
	}
	res, err := e.Transcribe(context.Background(), filepath.Join(t.TempDir(), "clip.m4a"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res == nil {
		t.Fatal("expected a result")
	}
	if res.Transcript != "hello from the fixture" || res.Confidence != ConfidenceHigh || res.Engine != "faster-whisper" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestAutoFallsBackToClassic(t *testing.T) {
	bin := fakeWhisper(t, `{"text":"classic","segments":[{"avg_logprob":-1.4}]}`)
	models := t.TempDir()
	os.WriteFile(filepath.Join(models, "model.bin"), []byte("w"), 0o644)

	e := Auto(Options{ModelDir: models, FastBinary: "chatlift-no-such-binary", ClassicBinary: bin})
	res, err := e.Transcribe(context.Background(), "/tmp/voice.caf")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res == nil || res.Engine != "whisper" || res.Confidence != ConfidenceLow {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Transcript, "classic") {
		t.Errorf("transcript = %q", res.Transcript)
	}
}
