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


// Package retrieval ranks passages of an indexed document against a question.
//
// The Ranker widens recall by querying the vector store with several
// phrasings of the question, merges and deduplicates the hits, boosts hits
// that share vocabulary with the question, and suppresses table-of-contents
// pages that would otherwise crowd out real content.
//
// # Usage
//
//	ranker, err := retrieval.NewRanker(embedder, vectorClient)
//	refs, err := ranker.Rank(ctx, "What was revenue growth?", conversationID, 5)
//
// Use RankWithMonitor to observe each stage.
package retrieval
