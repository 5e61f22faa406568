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

import "github.com/prometheus/client_golang/prometheus"

var (
	transcribeRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "milspect",
			Subsystem: "moonshine",
			Name:      "transcribe_request_ops_total",
			Help:      "The total number of transcription requests.",
		},
		[]string{"model"},
	)
	transcribeFailureOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "milspect",
			Subsystem: "moonshine",
			Name:      "transcribe_failure_ops_total",
			Help:      "The total number of transcriptions that failed internally and returned empty text.",
		},
		[]string{"model", "reason"},
	)
	tokenGenerationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "milspect",
			Subsystem: "moonshine",
			Name:      "token_generation_ops_total",
			Help:      "The total number of tokens generated.",
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(transcribeRequestOps)
	prometheus.MustRegister(transcribeFailureOps)
	prometheus.MustRegister(tokenGenerationOps)
}
