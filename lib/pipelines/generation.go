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
	"math"

	"github.com/milspect18/moonshine-go/lib/backends"
)

// TokenBudget derives the maximum number of decode iterations from audio
// duration: round(seconds * tokensPerSecond), clamped so that at least one
// decode step always runs, even for zero-length audio.
func TokenBudget(sampleCount int) int {
	seconds := float64(sampleCount) / float64(sampleRate)
	budget := int(math.Round(seconds * maxTokensPerSecond))
	if budget < minTokenCount {
		return minTokenCount
	}
	return budget
}

// NextToken performs greedy selection over a logits tensor of shape
// [1, 1, vocabSize]: the index of the maximum value, ties resolved by first
// occurrence. Any other shape is a fatal contract violation for the current
// transcription - it means the decoder graph does not match the expected
// model family or version.
func NextToken(logits backends.NamedTensor) (int64, error) {
	if len(logits.Shape) != 3 || logits.Shape[0] != 1 || logits.Shape[1] != 1 {
		return 0, fmt.Errorf("unexpected logits shape %v (expected [1 1 vocabSize])", backends.Shape(logits.Shape))
	}

	data, ok := logits.Data.([]float32)
	if !ok {
		return 0, fmt.Errorf("logits tensor is not float32")
	}
	if int64(len(data)) != logits.Shape[2] {
		return 0, fmt.Errorf("logits length %d does not match vocab size %d", len(data), logits.Shape[2])
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("empty logits tensor")
	}

	best := 0
	for i, v := range data {
		if v > data[best] {
			best = i
		}
	}
	return int64(best), nil
}
