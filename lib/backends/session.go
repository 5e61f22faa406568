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

import "fmt"

// Session represents a low-level inference session that can run tensor
// computations. It handles tensor I/O without knowledge of model semantics
// (encoder-decoder, KV-cache, etc.) - those contracts are enforced by the
// pipelines package.
type Session interface {
	// Run executes the session with the given named inputs.
	// Inputs are matched to the graph's declared input names; outputs are
	// returned in the graph's declared output order.
	Run(inputs []NamedTensor) ([]NamedTensor, error)

	// InputInfo returns metadata about the graph's declared inputs,
	// in declaration order. The result is stable for the session's lifetime.
	InputInfo() []TensorInfo

	// OutputInfo returns metadata about the graph's declared outputs.
	OutputInfo() []TensorInfo

	// Close releases resources associated with the session.
	Close() error
}

// NamedTensor associates a name with tensor data.
// Tensors are treated as exclusively-owned values: reusing one across
// inference calls requires an explicit Clone so that no two calls ever
// observe the same backing buffer.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  interface{} // []float32, []int64, []int32, []bool
}

// Clone returns a deep copy of the tensor with freshly allocated shape and
// data buffers.
func (t NamedTensor) Clone() NamedTensor {
	out := NamedTensor{Name: t.Name}
	out.Shape = make([]int64, len(t.Shape))
	copy(out.Shape, t.Shape)

	switch data := t.Data.(type) {
	case []float32:
		c := make([]float32, len(data))
		copy(c, data)
		out.Data = c
	case []int64:
		c := make([]int64, len(data))
		copy(c, data)
		out.Data = c
	case []int32:
		c := make([]int32, len(data))
		copy(c, data)
		out.Data = c
	case []bool:
		c := make([]bool, len(data))
		copy(c, data)
		out.Data = c
	default:
		// Unsupported types are copied by reference; Run rejects them anyway.
		out.Data = t.Data
	}
	return out
}

// ElementCount returns the number of elements implied by the shape.
func (t NamedTensor) ElementCount() int64 {
	count := int64(1)
	for _, d := range t.Shape {
		count *= d
	}
	return count
}

// TensorInfo describes a tensor's metadata.
type TensorInfo struct {
	Name     string
	Shape    []int64 // -1 for dynamic dimensions
	DataType DataType
}

// DataType represents tensor element types.
type DataType string

const (
	DataTypeFloat32 DataType = "float32"
	DataTypeInt64   DataType = "int64"
	DataTypeInt32   DataType = "int32"
	DataTypeBool    DataType = "bool"
)

// SessionFactory creates sessions from model files.
type SessionFactory interface {
	// CreateSession creates a session from a model graph file.
	CreateSession(modelPath string, opts ...SessionOption) (Session, error)
}

// SessionOption configures session creation.
type SessionOption func(*SessionConfig)

// SessionConfig holds configuration for session creation.
type SessionConfig struct {
	// NumThreads for intra-op parallelism (0 = engine default).
	NumThreads int
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		NumThreads: 0,
	}
}

// WithSessionThreads sets the number of intra-op threads.
func WithSessionThreads(n int) SessionOption {
	return func(c *SessionConfig) {
		c.NumThreads = n
	}
}

// ApplySessionOptions applies options to a fresh default config.
func ApplySessionOptions(opts ...SessionOption) *SessionConfig {
	cfg := DefaultSessionConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Shape is a convenience alias for tensor dimensions.
type Shape []int64

// String returns a string representation of the shape.
func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}
