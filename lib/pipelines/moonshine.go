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

// Package pipelines implements the Moonshine encoder-decoder transcription
// pipeline: the encoder runs once per utterance, then the decoder runs
// autoregressively with a per-layer KV-cache until it emits the end token or
// exhausts the token budget derived from audio duration.
package pipelines

import (
	"fmt"
	"strings"

	"github.com/milspect18/moonshine-go/lib/backends"
)

// Special token IDs and audio constants shared by all Moonshine models.
const (
	startToken         = int64(1)
	endToken           = int64(2)
	sampleRate         = 16000
	maxTokensPerSecond = 6
	minTokenCount      = 1
)

// ModelType identifies a Moonshine model family.
type ModelType string

const (
	// ModelTypeBase is the standard accuracy model.
	ModelTypeBase ModelType = "base"
	// ModelTypeTiny is the smaller, faster model with reduced accuracy.
	ModelTypeTiny ModelType = "tiny"
)

// ParseModelType resolves a case-insensitive model tag ("base" or "tiny").
// Unrecognized tags are an error; no partial construction happens downstream.
func ParseModelType(s string) (ModelType, error) {
	switch ModelType(strings.ToLower(s)) {
	case ModelTypeBase:
		return ModelTypeBase, nil
	case ModelTypeTiny:
		return ModelTypeTiny, nil
	default:
		return "", fmt.Errorf("unknown model type %q (expected \"base\" or \"tiny\")", s)
	}
}

// ModelConfig holds the per-model-family architecture constants needed to
// shape the KV-cache. Immutable after construction.
type ModelConfig struct {
	NumLayers  int64
	NumKVHeads int64
	HeadDim    int64
}

// Config returns the architecture constants for the model family. Values
// that did not come from ParseModelType fall back to the Base constants.
func (t ModelType) Config() ModelConfig {
	switch t {
	case ModelTypeTiny:
		return ModelConfig{NumLayers: 6, NumKVHeads: 8, HeadDim: 36}
	case ModelTypeBase:
		return ModelConfig{NumLayers: 8, NumKVHeads: 8, HeadDim: 52}
	}
	return ModelTypeBase.Config()
}

// decoder input slot kinds, resolved once at load time
type inputKind int

const (
	kindInputIDs inputKind = iota
	kindHiddenStates
	kindPastKeyValue
	kindCacheFlag
)

// Model drives one Moonshine encoder/decoder session pair. A Model is not
// safe for concurrent Generate calls: the hidden state and KV-cache are
// per-call state with no synchronization. Callers needing parallelism must
// load independent Models.
type Model struct {
	config  ModelConfig
	encoder backends.Session
	decoder backends.Session

	encoderInputName string
	// decoderPlan maps each declared decoder input, in order, to the kind of
	// tensor it receives. Built and validated once at load time.
	decoderPlan []inputKind
}

// LoadModel creates encoder and decoder sessions from the given ONNX files
// and validates the decoder's declared inputs against the Moonshine calling
// convention. Both paths must be regular files.
func LoadModel(
	modelType ModelType,
	encoderPath, decoderPath string,
	factory backends.SessionFactory,
	opts ...backends.SessionOption,
) (*Model, error) {
	encoder, err := factory.CreateSession(encoderPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating encoder session: %w", err)
	}

	decoder, err := factory.CreateSession(decoderPath, opts...)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("creating decoder session: %w", err)
	}

	model, err := NewModel(modelType.Config(), encoder, decoder)
	if err != nil {
		encoder.Close()
		decoder.Close()
		return nil, err
	}
	return model, nil
}

// NewModel builds a Model from already-created sessions. The decoder's
// declared inputs are classified into a fixed index-based calling convention
// so that per-step input assembly never re-derives names.
func NewModel(config ModelConfig, encoder, decoder backends.Session) (*Model, error) {
	encoderInputs := encoder.InputInfo()
	if len(encoderInputs) == 0 {
		return nil, fmt.Errorf("encoder declares no inputs")
	}

	decoderInputs := decoder.InputInfo()
	plan := make([]inputKind, len(decoderInputs))
	for i, info := range decoderInputs {
		switch {
		case IsPastKeyValueInput(info.Name):
			plan[i] = kindPastKeyValue
		case info.Name == "input_ids" || info.Name == "decoder_input_ids":
			plan[i] = kindInputIDs
		case info.Name == "encoder_hidden_states" || info.Name == "encoder_outputs":
			plan[i] = kindHiddenStates
		case info.Name == "use_cache_branch":
			plan[i] = kindCacheFlag
		default:
			return nil, fmt.Errorf("unexpected decoder input %q", info.Name)
		}
	}

	return &Model{
		config:           config,
		encoder:          encoder,
		decoder:          decoder,
		encoderInputName: encoderInputs[0].Name,
		decoderPlan:      plan,
	}, nil
}

// Config returns the model's architecture constants.
func (m *Model) Config() ModelConfig {
	return m.config
}

// Generate transcribes raw 16 kHz mono samples into token IDs. The encoder
// runs once; the decoder then runs greedily for at most TokenBudget steps,
// re-feeding only the most recently chosen token (history lives in the
// cache). The returned sequence excludes both the start and end tokens.
func (m *Model) Generate(samples []float32) ([]int32, error) {
	budget := TokenBudget(len(samples))

	hidden, err := m.encode(samples)
	if err != nil {
		return nil, err
	}

	cache := NewKVCache(m.decoder.InputInfo(), m.config)
	curTokens := []int64{startToken}
	tokens := make([]int32, 0, budget)

	for i := 0; i < budget; i++ {
		useCacheBranch := i > 0

		outputs, err := m.decodeStep(curTokens, hidden, cache, useCacheBranch)
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", i, err)
		}
		if len(outputs) == 0 {
			return nil, fmt.Errorf("decode step %d: decoder produced no outputs", i)
		}

		next, err := NextToken(outputs[0])
		if err != nil {
			return nil, fmt.Errorf("decode step %d: %w", i, err)
		}

		curTokens = []int64{next}

		if next == endToken {
			break
		}

		tokens = append(tokens, int32(next))
		cache.Update(outputs[1:], useCacheBranch)
	}

	return tokens, nil
}

// encode runs the encoder over the full audio buffer and returns the hidden
// state tensor. The caller's sample slice is copied, never aliased.
func (m *Model) encode(samples []float32) (backends.NamedTensor, error) {
	data := make([]float32, len(samples))
	copy(data, samples)

	outputs, err := m.encoder.Run([]backends.NamedTensor{{
		Name:  m.encoderInputName,
		Shape: []int64{1, int64(len(samples))},
		Data:  data,
	}})
	if err != nil {
		return backends.NamedTensor{}, fmt.Errorf("running encoder: %w", err)
	}
	if len(outputs) == 0 {
		return backends.NamedTensor{}, fmt.Errorf("encoder produced no outputs")
	}

	return outputs[0], nil
}

// decodeStep assembles the decoder's inputs per the load-time plan and runs
// one step. The hidden state and every cache entry are cloned so that no
// buffer is shared between iterations; the first output is the logits tensor
// and the remainder are present key/value tensors in declared order.
func (m *Model) decodeStep(
	curTokens []int64,
	hidden backends.NamedTensor,
	cache *KVCache,
	useCacheBranch bool,
) ([]backends.NamedTensor, error) {
	decoderInputs := m.decoder.InputInfo()
	inputs := make([]backends.NamedTensor, 0, len(decoderInputs))
	cacheEntries := cache.Entries()
	cacheIdx := 0

	for i, info := range decoderInputs {
		switch m.decoderPlan[i] {
		case kindInputIDs:
			ids := make([]int64, len(curTokens))
			copy(ids, curTokens)
			inputs = append(inputs, backends.NamedTensor{
				Name:  info.Name,
				Shape: []int64{1, int64(len(curTokens))},
				Data:  ids,
			})
		case kindHiddenStates:
			clone := hidden.Clone()
			clone.Name = info.Name
			inputs = append(inputs, clone)
		case kindPastKeyValue:
			if cacheIdx >= len(cacheEntries) {
				return nil, fmt.Errorf("decoder declares more past key/value inputs than cache entries (%d)", len(cacheEntries))
			}
			clone := cacheEntries[cacheIdx].Clone()
			clone.Name = info.Name
			inputs = append(inputs, clone)
			cacheIdx++
		case kindCacheFlag:
			inputs = append(inputs, backends.NamedTensor{
				Name:  info.Name,
				Shape: []int64{1},
				Data:  []bool{useCacheBranch},
			})
		}
	}

	return m.decoder.Run(inputs)
}

// Close releases both sessions.
func (m *Model) Close() error {
	var errs []error

	if m.encoder != nil {
		if err := m.encoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing encoder: %w", err))
		}
		m.encoder = nil
	}

	if m.decoder != nil {
		if err := m.decoder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing decoder: %w", err))
		}
		m.decoder = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing model: %v", errs)
	}
	return nil
}
