// Copyright 2025 Milspect, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/milspect18/moonshine-go/lib/audio"
	"github.com/milspect18/moonshine-go/lib/backends"
	"github.com/milspect18/moonshine-go/lib/transcribing"
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [wav files...]",
	Short: "Transcribe WAV audio files to text",
	Long: `Transcribe one or more WAV files to text.

Audio is converted to 16 kHz mono before inference; PCM and IEEE float
WAV files are accepted.

Examples:
  # Transcribe with the base model
  moonshine transcribe --encoder encoder.onnx --decoder decoder.onnx --tokenizer tokenizer.json audio.wav

  # Use the tiny model and limit intra-op threads
  moonshine transcribe --model-type tiny --threads 2 ... audio.wav`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)

	transcribeCmd.Flags().String("model-type", "base", "model family (base or tiny)")
	transcribeCmd.Flags().String("encoder", "", "path to the encoder ONNX file")
	transcribeCmd.Flags().String("decoder", "", "path to the decoder ONNX file")
	transcribeCmd.Flags().String("tokenizer", "", "path to the tokenizer.json file")
	transcribeCmd.Flags().Int("threads", 0, "intra-op threads per session (0 = engine default)")
	transcribeCmd.Flags().Int("pool-size", 1, "number of concurrent transcribers")

	mustBindPFlag("model_type", transcribeCmd.Flags().Lookup("model-type"))
	mustBindPFlag("encoder", transcribeCmd.Flags().Lookup("encoder"))
	mustBindPFlag("decoder", transcribeCmd.Flags().Lookup("decoder"))
	mustBindPFlag("tokenizer", transcribeCmd.Flags().Lookup("tokenizer"))
	mustBindPFlag("threads", transcribeCmd.Flags().Lookup("threads"))
	mustBindPFlag("pool_size", transcribeCmd.Flags().Lookup("pool-size"))
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	runtime, err := backends.NewRuntime()
	if err != nil {
		return fmt.Errorf("initializing inference runtime: %w", err)
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			logger.Warn("Error closing runtime", zap.Error(err))
		}
	}()

	pool, err := transcribing.NewPool(transcribing.PoolConfig{
		Transcriber: transcribing.Config{
			ModelType:     viper.GetString("model_type"),
			EncoderPath:   viper.GetString("encoder"),
			DecoderPath:   viper.GetString("decoder"),
			TokenizerPath: viper.GetString("tokenizer"),
			NumThreads:    viper.GetInt("threads"),
			Logger:        logger,
		},
		PoolSize: viper.GetInt("pool_size"),
	}, runtime.SessionFactory())
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("Error closing pool", zap.Error(err))
		}
	}()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		samples, err := audio.DecodeWAV(data)
		if err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}

		text, err := pool.Transcribe(ctx, samples)
		if err != nil {
			return fmt.Errorf("transcribing %s: %w", path, err)
		}

		fmt.Printf("%s: %s\n", path, text)
	}

	return nil
}
