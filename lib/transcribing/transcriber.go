// Copyright 2025 Milspect, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transcribing provides the user-facing speech-to-text surface: a
// Transcriber that owns a Moonshine model plus its tokenizer, and a Pool for
// concurrent use.
package transcribing

import (
	"fmt"
	"os"

	"github.com/sugarme/tokenizer/pretrained"
	"go.uber.org/zap"

	"github.com/milspect18/moonshine-go/lib/backends"
	"github.com/milspect18/moonshine-go/lib/pipelines"
)

// TokenGenerator produces token IDs from raw 16 kHz mono audio samples.
// Implemented by *pipelines.Model.
type TokenGenerator interface {
	Generate(samples []float32) ([]int32, error)
	Close() error
}

// TokenDecoder turns token IDs back into text. Implemented by
// *tokenizer.Tokenizer from sugarme.
type TokenDecoder interface {
	Decode(ids []int, skipSpecialTokens bool) string
}

// Config holds everything needed to construct a Transcriber.
type Config struct {
	// ModelType is the model family tag ("base" or "tiny"), case-insensitive.
	ModelType string

	// EncoderPath and DecoderPath point at the ONNX model files.
	EncoderPath string
	DecoderPath string

	// TokenizerPath points at a HuggingFace tokenizer.json file.
	TokenizerPath string

	// NumThreads limits intra-op parallelism per session (0 = engine default).
	NumThreads int

	// Logger for logging. If nil, uses a no-op logger.
	Logger *zap.Logger
}

// Transcriber converts audio into text. Construction is strict - any invalid
// input fails loudly - but Transcribe itself never fails: internal errors are
// logged and yield an empty transcript.
//
// A Transcriber is not safe for concurrent Transcribe calls; use a Pool for
// parallelism.
type Transcriber struct {
	model     TokenGenerator
	tok       TokenDecoder
	modelType pipelines.ModelType
	logger    *zap.Logger

	// runtime is non-nil only when the transcriber created it itself.
	runtime *backends.Runtime
}

// NewTranscriber validates the configuration, loads the tokenizer and both
// ONNX sessions, and returns a ready Transcriber. If factory is nil the
// transcriber acquires its own inference runtime handle and releases it on
// Close. On any error nothing is left open.
func NewTranscriber(cfg Config, factory backends.SessionFactory) (*Transcriber, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	modelType, err := pipelines.ParseModelType(cfg.ModelType)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("tokenizer path %q is not a regular file", cfg.TokenizerPath)
	}

	tok, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	var runtime *backends.Runtime
	if factory == nil {
		runtime, err = backends.NewRuntime()
		if err != nil {
			return nil, err
		}
		factory = runtime.SessionFactory()
	}

	model, err := pipelines.LoadModel(
		modelType,
		cfg.EncoderPath,
		cfg.DecoderPath,
		factory,
		backends.WithSessionThreads(cfg.NumThreads),
	)
	if err != nil {
		if runtime != nil {
			_ = runtime.Close()
		}
		return nil, err
	}

	logger.Info("Loaded transcriber",
		zap.String("modelType", string(modelType)),
		zap.String("encoder", cfg.EncoderPath),
		zap.String("decoder", cfg.DecoderPath))

	return &Transcriber{
		model:     model,
		tok:       tok,
		modelType: modelType,
		logger:    logger,
		runtime:   runtime,
	}, nil
}

// Transcribe converts 16 kHz mono samples into text. It never returns an
// error: generation or detokenization failures (including panics from the
// tokenizer library) are logged and produce "". Callers cannot distinguish
// silence from failure through the return value; check the logs.
func (t *Transcriber) Transcribe(samples []float32) (text string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("Transcription panicked",
				zap.String("modelType", string(t.modelType)),
				zap.Any("panic", r))
			transcribeFailureOps.WithLabelValues(string(t.modelType), "panic").Inc()
			text = ""
		}
	}()

	transcribeRequestOps.WithLabelValues(string(t.modelType)).Inc()

	tokens, err := t.model.Generate(samples)
	if err != nil {
		t.logger.Warn("Transcription failed",
			zap.String("modelType", string(t.modelType)),
			zap.Int("samples", len(samples)),
			zap.Error(err))
		transcribeFailureOps.WithLabelValues(string(t.modelType), "generate").Inc()
		return ""
	}

	tokenGenerationOps.WithLabelValues(string(t.modelType)).Add(float64(len(tokens)))

	if len(tokens) == 0 {
		return ""
	}

	ids := make([]int, len(tokens))
	for i, tok := range tokens {
		ids[i] = int(tok)
	}

	return t.tok.Decode(ids, true)
}

// ModelType returns the model family this transcriber was loaded with.
func (t *Transcriber) ModelType() pipelines.ModelType {
	return t.modelType
}

// Close releases the underlying model sessions, and the inference runtime
// handle if this transcriber created one.
func (t *Transcriber) Close() error {
	err := t.model.Close()

	if t.runtime != nil {
		if rerr := t.runtime.Close(); rerr != nil && err == nil {
			err = rerr
		}
		t.runtime = nil
	}

	return err
}
