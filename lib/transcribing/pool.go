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

package transcribing

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/milspect18/moonshine-go/lib/backends"
)

// Pool manages multiple Transcribers for concurrent transcription. Each
// request acquires a slot via semaphore and then takes an idle transcriber
// from the free list, so a single Transcriber never runs two utterances at
// once: a transcriber is only in the free list while no request holds it.
type Pool struct {
	transcribers []*Transcriber
	sem          *semaphore.Weighted
	free         chan *Transcriber
	logger       *zap.Logger
	poolSize     int
}

// PoolConfig holds configuration for creating a Pool.
type PoolConfig struct {
	// Transcriber configures every pooled instance.
	Transcriber Config

	// PoolSize is the number of concurrent transcribers (0 = auto-detect
	// from CPU count, capped at 4).
	PoolSize int
}

// NewPool loads PoolSize independent Transcribers. If any load fails, the
// already-loaded ones are closed before returning the error.
func NewPool(cfg PoolConfig, factory backends.SessionFactory) (*Pool, error) {
	logger := cfg.Transcriber.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	transcribers := make([]*Transcriber, poolSize)
	for i := 0; i < poolSize; i++ {
		t, err := NewTranscriber(cfg.Transcriber, factory)
		if err != nil {
			for j := 0; j < i; j++ {
				_ = transcribers[j].Close()
			}
			return nil, fmt.Errorf("loading transcriber %d: %w", i, err)
		}
		transcribers[i] = t
	}

	logger.Info("Created transcriber pool",
		zap.Int("poolSize", poolSize),
		zap.String("modelType", cfg.Transcriber.ModelType))

	free := make(chan *Transcriber, poolSize)
	for _, t := range transcribers {
		free <- t
	}

	return &Pool{
		transcribers: transcribers,
		sem:          semaphore.NewWeighted(int64(poolSize)),
		free:         free,
		logger:       logger,
		poolSize:     poolSize,
	}, nil
}

// Transcribe acquires a slot and runs one utterance. The only error surfaced
// here is slot acquisition (context cancellation); the transcription itself
// follows the Transcriber contract and yields "" on internal failure.
func (p *Pool) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring transcriber slot: %w", err)
	}
	defer p.sem.Release(1)

	// Holding a semaphore slot guarantees the free list is non-empty.
	t := <-p.free
	defer func() {
		p.free <- t
	}()

	return t.Transcribe(samples), nil
}

// Close releases all pooled transcribers.
func (p *Pool) Close() error {
	p.logger.Info("Closing transcriber pool", zap.Int("poolSize", p.poolSize))

	var errs []error
	for i, t := range p.transcribers {
		if t != nil {
			if err := t.Close(); err != nil {
				p.logger.Warn("Error closing transcriber",
					zap.Int("index", i),
					zap.Error(err))
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pool: %v", errs)
	}
	return nil
}
