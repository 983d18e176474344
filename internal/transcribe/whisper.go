package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// whisperCLI drives an openai-whisper compatible command-line tool that
// writes <basename>.json into --output_dir.
type whisperCLI struct {
	name   string
	engine string
	binary string
	extra  []string
	opts   Options
}

func newFast(opts Options) *whisperCLI {
	return &whisperCLI{
		name:   EngineFast,
		engine: "faster-whisper",
		binary: opts.FastBinary,
		extra:  []string{"--local_files_only", "True"},
		opts:   opts,
	}
}

func newClassic(opts Options) *whisperCLI {
	return &whisperCLI{
		name:   EngineClassic,
		engine: "whisper",
		binary: opts.ClassicBinary,
		opts:   opts,
	}
}

func (w *whisperCLI) Name() string { return w.name }

// available resolves the binary and checks the model directory.
func (w *whisperCLI) available() (string, bool) {
	bin, err := exec.LookPath(w.binary)
	if err != nil {
		w.opts.Logger.Debug("transcription engine unavailable", "engine", w.name, "binary", w.binary)
		return "", false
	}
	if !hasModel(w.opts.ModelDir) {
		w.opts.Logger.Debug("transcription model missing", "engine", w.name, "model_dir", w.opts.ModelDir)
		return "", false
	}
	return bin, true
}

func hasModel(dir string) bool {
	if dir == "" {
		return false
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func (w *whisperCLI) Transcribe(ctx context.Context, path string) (*canonical.Transcription, error) {
	bin, ok := w.available()
	if !ok {
		return nil, nil
	}

	outDir, err := os.MkdirTemp("", "chatlift-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("creating transcription dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	args := []string{
		path,
		"--model", w.opts.Model,
		"--model_dir", w.opts.ModelDir,
		"--output_format", "json",
		"--output_dir", outDir,
		"--verbose", "False",
	}
	if w.opts.Language != "" {
		args = append(args, "--language", w.opts.Language)
	}
	args = append(args, w.extra...)

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Env = append(os.Environ(), "HF_HUB_OFFLINE=1", "TRANSFORMERS_OFFLINE=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s failed on %s: %w: %s", w.binary, filepath.Base(path), err, tail(out, 400))
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	data, err := os.ReadFile(filepath.Join(outDir, stem+".json"))
	if err != nil {
		return nil, fmt.Errorf("reading %s output: %w", w.binary, err)
	}
	res, err := parseWhisperJSON(data)
	if err != nil {
		return nil, err
	}
	res.Engine = w.engine
	w.opts.Logger.Debug("transcribed audio", "engine", w.name, "file", filepath.Base(path), "confidence", res.Confidence)
	return res, nil
}

type whisperOutput struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

func parseWhisperJSON(data []byte) (*canonical.Transcription, error) {
	var out whisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parsing whisper output: %w", err)
	}

	text := strings.TrimSpace(out.Text)
	if text == "" && len(out.Segments) > 0 {
		parts := make([]string, 0, len(out.Segments))
		for _, s := range out.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		text = strings.Join(parts, " ")
	}

	var sum float64
	for _, s := range out.Segments {
		sum += s.AvgLogprob
	}
	mean := 0.0
	if n := len(out.Segments); n > 0 {
		mean = sum / float64(n)
	}
	return &canonical.Transcription{
		Transcript: text,
		Confidence: Bucket(mean, len(out.Segments) > 0),
	}, nil
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
