// Package transcribe runs local speech-to-text over audio attachments.
//
// Engines never touch the network. The local engines shell out to a whisper
// command-line tool with a model directory on disk and the Hugging Face hub
// forced offline; when the tool or the model is missing they report nothing
// rather than failing, so callers treat the attachment as untranscribed.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hurttlocker/chatlift/internal/canonical"
)

// Confidence buckets.
const (
	ConfidenceHigh    = "high"
	ConfidenceMedium  = "medium"
	ConfidenceLow     = "low"
	ConfidenceUnknown = "unknown"
	ConfidenceMock    = "mock"
)

// Engine names accepted by Select.
const (
	EngineMock    = "mock"
	EngineFast    = "fast"
	EngineClassic = "classic"
	EngineAuto    = "auto"
	EngineNone    = "none"
)

// DefaultTimeout bounds a single transcription.
const DefaultTimeout = 10 * time.Minute

// Engine transcribes one audio file. A nil result with a nil error means the
// engine is unavailable; an error means it ran and failed on this file.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, path string) (*canonical.Transcription, error)
}

// Options configures the local engines.
type Options struct {
	// ModelDir holds downloaded model weights. Required by fast and classic.
	ModelDir string
	// Model is the whisper model size, e.g. "small".
	Model    string
	Language string

	FastBinary    string
	ClassicBinary string

	Timeout time.Duration
	Logger  *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "small"
	}
	if o.FastBinary == "" {
		o.FastBinary = "whisper-ctranslate2"
	}
	if o.ClassicBinary == "" {
		o.ClassicBinary = "whisper"
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Select builds the engine named by name. "" and "none" disable
// transcription and return a nil Engine.
func Select(name string, opts Options) (Engine, error) {
	opts = opts.withDefaults()
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EngineNone:
		return nil, nil
	case EngineMock:
		return Mock{}, nil
	case EngineFast:
		return newFast(opts), nil
	case EngineClassic:
		return newClassic(opts), nil
	case EngineAuto:
		return Auto(opts), nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q (want mock, fast, classic, auto or none)", name)
	}
}

// Mock is a deterministic engine for tests. It is always available.
type Mock struct{}

func (Mock) Name() string { return EngineMock }

func (Mock) Transcribe(_ context.Context, path string) (*canonical.Transcription, error) {
	return &canonical.Transcription{
		Transcript: "[mock transcript of " + filepath.Base(path) + "]",
		Engine:     EngineMock,
		Confidence: ConfidenceMock,
	}, nil
}

// chain tries engines in order and returns the first result.
type chain struct {
	engines []Engine
}

// Auto prefers the fast engine and falls back to the classic one.
func Auto(opts Options) Engine {
	opts = opts.withDefaults()
	return &chain{engines: []Engine{newFast(opts), newClassic(opts)}}
}

func (c *chain) Name() string { return EngineAuto }

func (c *chain) Transcribe(ctx context.Context, path string) (*canonical.Transcription, error) {
	var firstErr error
	for _, e := range c.engines {
		res, err := e.Transcribe(ctx, path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if res != nil {
			return res, nil
		}
	}
	return nil, firstErr
}

// Bucket maps the mean per-segment average log-probability to a confidence
// bucket. ok is false when the model produced no segments.
func Bucket(meanLogprob float64, ok bool) string {
	switch {
	case !ok:
		return ConfidenceUnknown
	case meanLogprob > -0.5:
		return ConfidenceHigh
	case meanLogprob > -1.0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
