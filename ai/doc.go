// Copyright 2025 Poiesic Systems
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

// Package ai provides abstractions for the model services used by folio.
//
// This package defines interfaces for text embeddings, chat completion and
// query rewriting. The pipelines depend on these abstractions rather than on
// a concrete provider.
//
// # Design Principles
//
//   - Embedder: Generates vector embeddings from text
//   - Completer: Produces an answer from a list of chat turns
//   - QueryRewriter: Paraphrases a question for multi-query retrieval
//   - AIProvider: Aggregates AI services for convenient initialization
//
// BatchEmbedder wraps any Embedder with fixed-size batching (at most 100 texts
// per call), a bounded number of concurrent calls and optional rate limiting.
// It never retries: embedding failures are fatal to the operation that asked
// for them.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (openai.NewProvider, openai.NewEmbedder, etc.) return
// INTERFACE types to enforce abstraction. Test utility constructors
// (mock.NewMockEmbedder, mock.NewMockCompleter) return CONCRETE types to enable
// test assertions and behavior injection.
//
// # Usage Example
//
//	config := ai.DefaultConfig()
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	batch, err := ai.NewBatchEmbedder(provider.Embedder(), config, nil)
//	vectors, err := batch.EmbedTexts(ctx, chunks)
package ai
