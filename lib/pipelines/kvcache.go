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
	"strings"

	"github.com/milspect18/moonshine-go/lib/backends"
)

// IsPastKeyValueInput checks if a decoder input name is a past key/value
// tensor. Common patterns: past_key_values.0.decoder.key,
// past_key_values.0.encoder.value, etc.
func IsPastKeyValueInput(name string) bool {
	return strings.Contains(name, "past_key_values")
}

// KVCache holds the per-layer cached key/value projections reused across
// decode steps. Entries are ordered by the decoder graph's input declaration
// order and are owned exclusively by one decode run; they are never shared
// across transcriptions or goroutines.
type KVCache struct {
	entries []backends.NamedTensor
}

// NewKVCache creates a cache with one empty entry per decoder input matching
// the past key/value naming convention, in declaration order. Each entry has
// shape [0, numKVHeads, 1, headDim]: empty along the sequence axis so the
// first decoder step replaces it unconditionally.
func NewKVCache(decoderInputs []backends.TensorInfo, config ModelConfig) *KVCache {
	cache := &KVCache{}
	for _, info := range decoderInputs {
		if !IsPastKeyValueInput(info.Name) {
			continue
		}
		cache.entries = append(cache.entries, backends.NamedTensor{
			Name:  info.Name,
			Shape: []int64{0, config.NumKVHeads, 1, config.HeadDim},
			Data:  []float32{},
		})
	}
	return cache
}

// Len returns the number of cache entries.
func (c *KVCache) Len() int {
	return len(c.entries)
}

// Entries returns the current cache entries in order. Callers must Clone
// each entry before feeding it to a session.
func (c *KVCache) Entries() []backends.NamedTensor {
	return c.entries
}

// Update replaces cache entries with the decoder's present key/value outputs,
// pairwise in order. Iteration is bounded by the shorter of the two slices.
//
// The decoder graph has two execution branches: the first step processes the
// whole prompt and outputs the full cache, later steps process one token and
// output the authoritative new cache row. Entry i is replaced when any of
// the following holds, otherwise the old entry is retained:
//   - the existing entry is still empty along the sequence axis
//   - the new value's processed-token axis (3rd dim) is greater than 1,
//     meaning a non-incremental output that must fully replace the cache
//   - the decoder ran with use_cache_branch false, so its outputs represent
//     the full state rather than an incremental delta
func (c *KVCache) Update(present []backends.NamedTensor, useCacheBranch bool) {
	n := len(c.entries)
	if len(present) < n {
		n = len(present)
	}

	for i := 0; i < n; i++ {
		pastEmpty := len(c.entries[i].Shape) > 0 && c.entries[i].Shape[0] == 0
		multiToken := len(present[i].Shape) > 2 && present[i].Shape[2] > 1

		if replaceCacheEntry(pastEmpty, multiToken, useCacheBranch) {
			entry := present[i]
			entry.Name = c.entries[i].Name
			c.entries[i] = entry
		}
	}
}

// replaceCacheEntry is the cache replacement decision table. The three
// conditions are independent triggers.
func replaceCacheEntry(pastEmpty, multiToken, useCacheBranch bool) bool {
	return pastEmpty || multiToken || !useCacheBranch
}
