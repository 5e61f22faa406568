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

package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamedTensorClone(t *testing.T) {
	tests := []struct {
		name   string
		tensor NamedTensor
	}{
		{
			name: "float32",
			tensor: NamedTensor{
				Name:  "encoder_hidden_states",
				Shape: []int64{1, 2, 2},
				Data:  []float32{1, 2, 3, 4},
			},
		},
		{
			name: "int64",
			tensor: NamedTensor{
				Name:  "input_ids",
				Shape: []int64{1, 3},
				Data:  []int64{1, 5, 9},
			},
		},
		{
			name: "bool",
			tensor: NamedTensor{
				Name:  "use_cache_branch",
				Shape: []int64{1},
				Data:  []bool{true},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clone := tt.tensor.Clone()
			assert.Equal(t, tt.tensor.Name, clone.Name)
			assert.Equal(t, tt.tensor.Shape, clone.Shape)
			assert.Equal(t, tt.tensor.Data, clone.Data)
		})
	}
}

func TestNamedTensorCloneIndependentBuffers(t *testing.T) {
	original := NamedTensor{
		Name:  "past_key_values.0.key",
		Shape: []int64{1, 8, 1, 4},
		Data:  []float32{1, 2, 3, 4},
	}

	clone := original.Clone()

	// Mutating the clone must not affect the original.
	clone.Data.([]float32)[0] = 99
	clone.Shape[0] = 7

	assert.Equal(t, float32(1), original.Data.([]float32)[0])
	assert.Equal(t, int64(1), original.Shape[0])
}

func TestNamedTensorElementCount(t *testing.T) {
	tests := []struct {
		name  string
		shape []int64
		want  int64
	}{
		{name: "scalar-ish", shape: []int64{1}, want: 1},
		{name: "empty leading dim", shape: []int64{0, 8, 1, 52}, want: 0},
		{name: "logits", shape: []int64{1, 1, 32768}, want: 32768},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor := NamedTensor{Shape: tt.shape}
			assert.Equal(t, tt.want, tensor.ElementCount())
		})
	}
}

func TestApplySessionOptions(t *testing.T) {
	cfg := ApplySessionOptions()
	require.NotNil(t, cfg)
	assert.Equal(t, 0, cfg.NumThreads)

	cfg = ApplySessionOptions(WithSessionThreads(4))
	assert.Equal(t, 4, cfg.NumThreads)
}

func TestCreateSessionRejectsNonRegularFile(t *testing.T) {
	runtime, err := NewRuntime()
	if err != nil {
		t.Skipf("ONNX Runtime unavailable: %v", err)
	}
	defer runtime.Close()

	factory := runtime.SessionFactory()

	_, err = factory.CreateSession(t.TempDir())
	assert.Error(t, err)

	_, err = factory.CreateSession("/nonexistent/model.onnx")
	assert.Error(t, err)
}
