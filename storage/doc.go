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

// Package storage provides the storage abstraction layer for folio.
//
// This package defines repository interfaces that decouple storage implementation
// from the ingestion and answering pipeline. Conversations and messages are
// persisted through ConversationRepository and MessageRepository.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return the repository interfaces:
//
//	convs, msgs, backend, err := badger.NewRepositories("/path/to/db")
//
// # State Machine
//
// MessageRepository owns every status change of a message. ClaimMessage is the
// only way into processing and AddReply is the only way to create an assistant
// reply; both are conditional updates, so concurrent callers racing on the same
// user message observe exactly one winner.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	convs, msgs, backend, err := badger.NewMemoryRepositories()
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer backend.Close()
//
// # Serialization
//
// Records are stored as JSON. Marshal/Unmarshal helpers live in this package so
// every backend encodes records identically.
package storage
