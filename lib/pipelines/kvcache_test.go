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

package pipelines

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/milspect18/moonshine-go/lib/backends"
)

func TestIsPastKeyValueInput(t *testing.T) {
	assert.True(t, IsPastKeyValueInput("past_key_values.0.decoder.key"))
	assert.True(t, IsPastKeyValueInput("past_key_values.7.encoder.value"))
	assert.False(t, IsPastKeyValueInput("input_ids"))
	assert.False(t, IsPastKeyValueInput("encoder_hidden_states"))
	assert.False(t, IsPastKeyValueInput("use_cache_branch"))
}

// tinyDecoderInputs builds a decoder input declaration with the given number
// of past key/value slots interleaved with the regular inputs.
func tinyDecoderInputs(numKV int) []backends.TensorInfo {
	inputs := []backends.TensorInfo{
		{Name: "input_ids", DataType: backends.DataTypeInt64},
		{Name: "encoder_hidden_states", DataType: backends.DataTypeFloat32},
	}
	for i := 0; i < numKV/2; i++ {
		inputs = append(inputs,
			backends.TensorInfo{Name: fmt.Sprintf("past_key_values.%d.decoder.key", i), DataType: backends.DataTypeFloat32},
			backends.TensorInfo{Name: fmt.Sprintf("past_key_values.%d.decoder.value", i), DataType: backends.DataTypeFloat32},
		)
	}
	inputs = append(inputs, backends.TensorInfo{Name: "use_cache_branch", DataType: backends.DataTypeBool})
	return inputs
}

func TestNewKVCache(t *testing.T) {
	config := ModelTypeTiny.Config()
	cache := NewKVCache(tinyDecoderInputs(4), config)

	require.Equal(t, 4, cache.Len())

	for i, entry := range cache.Entries() {
		assert.Equal(t, []int64{0, config.NumKVHeads, 1, config.HeadDim}, entry.Shape, "entry %d", i)
		assert.Empty(t, entry.Data.([]float32), "entry %d", i)
	}

	// Entries follow declaration order.
	assert.Equal(t, "past_key_values.0.decoder.key", cache.Entries()[0].Name)
	assert.Equal(t, "past_key_values.0.decoder.value", cache.Entries()[1].Name)
	assert.Equal(t, "past_key_values.1.decoder.key", cache.Entries()[2].Name)
}

func TestNewKVCacheIgnoresNonCacheInputs(t *testing.T) {
	cache := NewKVCache([]backends.TensorInfo{
		{Name: "input_ids"},
		{Name: "encoder_hidden_states"},
		{Name: "use_cache_branch"},
	}, ModelTypeBase.Config())

	assert.Equal(t, 0, cache.Len())
}

func TestReplaceCacheEntry(t *testing.T) {
	tests := []struct {
		pastEmpty      bool
		multiToken     bool
		useCacheBranch bool
		want           bool
	}{
		{pastEmpty: false, multiToken: false, useCacheBranch: false, want: true},
		{pastEmpty: false, multiToken: false, useCacheBranch: true, want: false},
		{pastEmpty: false, multiToken: true, useCacheBranch: false, want: true},
		{pastEmpty: false, multiToken: true, useCacheBranch: true, want: true},
		{pastEmpty: true, multiToken: false, useCacheBranch: false, want: true},
		{pastEmpty: true, multiToken: false, useCacheBranch: true, want: true},
		{pastEmpty: true, multiToken: true, useCacheBranch: false, want: true},
		{pastEmpty: true, multiToken: true, useCacheBranch: true, want: true},
	}

	for _, tt := range tests {
		name := fmt.Sprintf("empty=%v multi=%v branch=%v", tt.pastEmpty, tt.multiToken, tt.useCacheBranch)
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, replaceCacheEntry(tt.pastEmpty, tt.multiToken, tt.useCacheBranch))
		})
	}
}

func presentTensor(name string, tokProc int64, fill float32) backends.NamedTensor {
	shape := []int64{1, 8, tokProc, 4}
	size := int64(1)
	for _, d := range shape {
		size *= d
	}
	data := make([]float32, size)
	for i := range data {
		data[i] = fill
	}
	return backends.NamedTensor{Name: name, Shape: shape, Data: data}
}

func TestKVCacheUpdateReplacesEmptyEntries(t *testing.T) {
	cache := NewKVCache(tinyDecoderInputs(2), ModelTypeTiny.Config())
	require.Equal(t, 2, cache.Len())

	present := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 1),
		presentTensor("present.0.decoder.value", 1, 2),
	}

	// Empty entries are replaced regardless of the cache branch flag.
	cache.Update(present, true)

	require.Equal(t, 2, cache.Len())
	assert.Equal(t, int64(1), cache.Entries()[0].Shape[0])
	assert.Equal(t, float32(1), cache.Entries()[0].Data.([]float32)[0])
	assert.Equal(t, float32(2), cache.Entries()[1].Data.([]float32)[0])

	// Entry names stay bound to the decoder's input naming.
	assert.Equal(t, "past_key_values.0.decoder.key", cache.Entries()[0].Name)
}

func TestKVCacheUpdateRetainsIncrementalEntries(t *testing.T) {
	cache := NewKVCache(tinyDecoderInputs(2), ModelTypeTiny.Config())

	first := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 1),
		presentTensor("present.0.decoder.value", 1, 1),
	}
	cache.Update(first, false)

	// Single-token output under the cache branch: old entries are kept.
	second := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 9),
		presentTensor("present.0.decoder.value", 1, 9),
	}
	cache.Update(second, true)

	assert.Equal(t, float32(1), cache.Entries()[0].Data.([]float32)[0])
	assert.Equal(t, float32(1), cache.Entries()[1].Data.([]float32)[0])
}

func TestKVCacheUpdateReplacesMultiTokenOutputs(t *testing.T) {
	cache := NewKVCache(tinyDecoderInputs(2), ModelTypeTiny.Config())

	first := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 1),
		presentTensor("present.0.decoder.value", 1, 1),
	}
	cache.Update(first, false)

	// A processed-token axis > 1 forces replacement even with the cache branch.
	second := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 3, 7),
		presentTensor("present.0.decoder.value", 3, 7),
	}
	cache.Update(second, true)

	assert.Equal(t, int64(3), cache.Entries()[0].Shape[2])
	assert.Equal(t, float32(7), cache.Entries()[0].Data.([]float32)[0])
}

func TestKVCacheUpdateReplacesWithoutCacheBranch(t *testing.T) {
	cache := NewKVCache(tinyDecoderInputs(2), ModelTypeTiny.Config())

	first := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 1),
		presentTensor("present.0.decoder.value", 1, 1),
	}
	cache.Update(first, false)

	// use_cache_branch false: outputs represent full state, always replace.
	second := []backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 5),
		presentTensor("present.0.decoder.value", 1, 5),
	}
	cache.Update(second, false)

	assert.Equal(t, float32(5), cache.Entries()[0].Data.([]float32)[0])
}

func TestKVCacheUpdatePairwiseBound(t *testing.T) {
	cache := NewKVCache(tinyDecoderInputs(4), ModelTypeTiny.Config())
	require.Equal(t, 4, cache.Len())

	// Fewer new values than entries: only the paired prefix updates and the
	// entry count never changes.
	cache.Update([]backends.NamedTensor{
		presentTensor("present.0.decoder.key", 1, 3),
	}, false)

	assert.Equal(t, 4, cache.Len())
	assert.Equal(t, int64(1), cache.Entries()[0].Shape[0])
	assert.Equal(t, int64(0), cache.Entries()[1].Shape[0])
	assert.Equal(t, int64(0), cache.Entries()[2].Shape[0])
}
