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

// Package backends wraps ONNX Runtime inference sessions behind a narrow
// "run a named graph on named tensors" contract.
//
// Runtime Requirements:
//   - Set LD_LIBRARY_PATH (or ONNXRUNTIME_ROOT) before running:
//     export LD_LIBRARY_PATH=/path/to/onnxruntime/lib
package backends

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process-wide. Runtime values share it via
// reference counting so each owner still gets a deterministic lifecycle.
var (
	envMu    sync.Mutex
	envCount int
)

// Runtime owns a handle on the ONNX Runtime environment. It must be
// constructed explicitly and closed when the owner is done; sessions created
// from its factory are only valid while the Runtime is open.
type Runtime struct {
	mu     sync.Mutex
	closed bool
}

// NewRuntime initializes the ONNX Runtime environment and returns a handle
// to it. The shared library is located via ONNXRUNTIME_ROOT or the platform
// library path environment variable.
func NewRuntime() (*Runtime, error) {
	envMu.Lock()
	defer envMu.Unlock()

	if envCount == 0 {
		if libPath := getOnnxLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(filepath.Join(libPath, getOnnxLibraryName()))
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
		}
	}
	envCount++

	return &Runtime{}, nil
}

// SessionFactory returns a factory for creating inference sessions backed by
// this runtime.
func (r *Runtime) SessionFactory() SessionFactory {
	return &onnxSessionFactory{runtime: r}
}

// Close releases this handle on the ONNX Runtime environment. The underlying
// environment is destroyed when the last handle closes. Close is idempotent.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	envMu.Lock()
	defer envMu.Unlock()
	envCount--
	if envCount == 0 {
		if err := ort.DestroyEnvironment(); err != nil {
			return fmt.Errorf("destroying ONNX Runtime environment: %w", err)
		}
	}
	return nil
}

// getOnnxLibraryPath returns the directory containing libonnxruntime from
// environment. Checks ONNXRUNTIME_ROOT first, then LD_LIBRARY_PATH (or
// DYLD_LIBRARY_PATH on macOS).
func getOnnxLibraryPath() string {
	platform := runtime.GOOS + "-" + runtime.GOARCH
	libName := getOnnxLibraryName()

	if root := os.Getenv("ONNXRUNTIME_ROOT"); root != "" {
		platformDir := filepath.Join(root, platform, "lib")
		if _, err := os.Stat(filepath.Join(platformDir, libName)); err == nil {
			return platformDir
		}
		directDir := filepath.Join(root, "lib")
		if _, err := os.Stat(filepath.Join(directDir, libName)); err == nil {
			return directDir
		}
	}

	ldPath := os.Getenv("LD_LIBRARY_PATH")
	if runtime.GOOS == "darwin" {
		if dyldPath := os.Getenv("DYLD_LIBRARY_PATH"); dyldPath != "" {
			ldPath = dyldPath
		}
	}
	if ldPath != "" {
		for _, dir := range filepath.SplitList(ldPath) {
			if _, err := os.Stat(filepath.Join(dir, libName)); err == nil {
				return dir
			}
		}
	}

	return ""
}

// getOnnxLibraryName returns the platform-specific library name.
func getOnnxLibraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// onnxSessionFactory implements SessionFactory for ONNX Runtime.
type onnxSessionFactory struct {
	runtime *Runtime
}

func (f *onnxSessionFactory) CreateSession(modelPath string, opts ...SessionOption) (Session, error) {
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model path %s: %w", modelPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("model path %s is not a regular file", modelPath)
	}

	cfg := ApplySessionOptions(opts...)

	// Discover the graph's declared input/output names once; Run relies on
	// this fixed calling convention instead of re-deriving names per call.
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("getting model info: %w", err)
	}

	inputNames := make([]string, len(inputs))
	inputInfo := make([]TensorInfo, len(inputs))
	for i, ioInfo := range inputs {
		inputNames[i] = ioInfo.Name
		inputInfo[i] = TensorInfo{
			Name:     ioInfo.Name,
			Shape:    ioInfo.Dimensions,
			DataType: onnxDataType(ioInfo.DataType),
		}
	}

	outputNames := make([]string, len(outputs))
	outputInfo := make([]TensorInfo, len(outputs))
	for i, ioInfo := range outputs {
		outputNames[i] = ioInfo.Name
		outputInfo[i] = TensorInfo{
			Name:     ioInfo.Name,
			Shape:    ioInfo.Dimensions,
			DataType: onnxDataType(ioInfo.DataType),
		}
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}

	if cfg.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	return &onnxSession{
		session:     session,
		sessionOpts: sessionOpts,
		inputInfo:   inputInfo,
		outputInfo:  outputInfo,
	}, nil
}

// onnxDataType converts an ONNX element type to our DataType.
func onnxDataType(dt ort.TensorElementDataType) DataType {
	switch dt {
	case ort.TensorElementDataTypeFloat:
		return DataTypeFloat32
	case ort.TensorElementDataTypeInt64:
		return DataTypeInt64
	case ort.TensorElementDataTypeInt32:
		return DataTypeInt32
	case ort.TensorElementDataTypeBool:
		return DataTypeBool
	default:
		return DataTypeFloat32
	}
}

// onnxSession implements Session for ONNX Runtime.
type onnxSession struct {
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
}

func (s *onnxSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	if s.session == nil {
		return nil, fmt.Errorf("session is closed")
	}

	inputMap := make(map[string]NamedTensor, len(inputs))
	for _, input := range inputs {
		inputMap[input.Name] = input
	}

	// Convert inputs to ORT tensors in the order declared by the graph.
	ortInputs := make([]ort.Value, len(s.inputInfo))
	cleanup := func(upto int) {
		for j := 0; j < upto; j++ {
			if ortInputs[j] != nil {
				ortInputs[j].Destroy()
			}
		}
	}
	for i, info := range s.inputInfo {
		input, ok := inputMap[info.Name]
		if !ok {
			cleanup(i)
			return nil, fmt.Errorf("missing input tensor: %s", info.Name)
		}
		tensor, err := createOrtTensor(input)
		if err != nil {
			cleanup(i)
			return nil, fmt.Errorf("creating input tensor %s: %w", input.Name, err)
		}
		ortInputs[i] = tensor
	}
	defer cleanup(len(ortInputs))

	// Synchronous, blocking execution; outputs are allocated by the engine.
	ortOutputs := make([]ort.Value, len(s.outputInfo))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}
	defer func() {
		for _, t := range ortOutputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	// Copy outputs out of engine-owned memory.
	outputs := make([]NamedTensor, len(ortOutputs))
	for i, ortOutput := range ortOutputs {
		if ortOutput == nil {
			continue
		}
		output, err := extractOrtTensor(ortOutput, s.outputInfo[i].Name)
		if err != nil {
			return nil, fmt.Errorf("extracting output tensor %s: %w", s.outputInfo[i].Name, err)
		}
		outputs[i] = output
	}

	return outputs, nil
}

func (s *onnxSession) InputInfo() []TensorInfo {
	return s.inputInfo
}

func (s *onnxSession) OutputInfo() []TensorInfo {
	return s.outputInfo
}

func (s *onnxSession) Close() error {
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		s.sessionOpts.Destroy()
		s.sessionOpts = nil
	}
	return nil
}

// createOrtTensor creates an ORT tensor from a NamedTensor.
// Zero-element tensors (for example an empty KV-cache entry with a leading
// dimension of 0) are allocated via NewEmptyTensor since they carry no data.
func createOrtTensor(input NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(input.Shape...)

	if input.ElementCount() == 0 {
		switch input.Data.(type) {
		case []float32:
			return ort.NewEmptyTensor[float32](shape)
		case []int64:
			return ort.NewEmptyTensor[int64](shape)
		case []int32:
			return ort.NewEmptyTensor[int32](shape)
		case []bool:
			return ort.NewEmptyTensor[bool](shape)
		default:
			return nil, fmt.Errorf("unsupported data type: %T", input.Data)
		}
	}

	switch data := input.Data.(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []int64:
		return ort.NewTensor(shape, data)
	case []int32:
		// Convert to int64 for ONNX
		int64Data := make([]int64, len(data))
		for i, v := range data {
			int64Data[i] = int64(v)
		}
		return ort.NewTensor(shape, int64Data)
	case []bool:
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("unsupported data type: %T", data)
	}
}

// extractOrtTensor extracts a NamedTensor from an ORT tensor.
func extractOrtTensor(ortTensor ort.Value, name string) (NamedTensor, error) {
	shape := ortTensor.GetShape()

	if floatTensor, ok := ortTensor.(*ort.Tensor[float32]); ok {
		data := floatTensor.GetData()
		dataCopy := make([]float32, len(data))
		copy(dataCopy, data)
		return NamedTensor{Name: name, Shape: shape, Data: dataCopy}, nil
	}

	if int64Tensor, ok := ortTensor.(*ort.Tensor[int64]); ok {
		data := int64Tensor.GetData()
		dataCopy := make([]int64, len(data))
		copy(dataCopy, data)
		return NamedTensor{Name: name, Shape: shape, Data: dataCopy}, nil
	}

	if int32Tensor, ok := ortTensor.(*ort.Tensor[int32]); ok {
		data := int32Tensor.GetData()
		dataCopy := make([]int32, len(data))
		copy(dataCopy, data)
		return NamedTensor{Name: name, Shape: shape, Data: dataCopy}, nil
	}

	if boolTensor, ok := ortTensor.(*ort.Tensor[bool]); ok {
		data := boolTensor.GetData()
		dataCopy := make([]bool, len(data))
		copy(dataCopy, data)
		return NamedTensor{Name: name, Shape: shape, Data: dataCopy}, nil
	}

	return NamedTensor{}, fmt.Errorf("unsupported tensor type")
}
