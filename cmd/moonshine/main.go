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

// Command moonshine transcribes speech audio to text using Moonshine ONNX
// models.
//
// Usage:
//
//	moonshine transcribe audio.wav              # Transcribe one file
//	moonshine transcribe a.wav b.wav c.wav      # Transcribe several files
package main

import "github.com/milspect18/moonshine-go/cmd/moonshine/cmd"

// https://goreleaser.com/cookbooks/using-main.version/
var version = "dev"

func main() {
	cmd.Version = version
	cmd.Execute()
}
