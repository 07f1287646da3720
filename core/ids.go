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


package core

import (
	"encoding/hex"
	"strconv"

	"github.com/go-crypt/x/blake2b"
)

// ChunkID returns the vector record id for a chunk. Re-ingesting a document produces the same ids.
func ChunkID(conversationID string, chunkIndex int) string {
	return conversationID + "-" + strconv.Itoa(chunkIndex)
}

// Fingerprint returns a short stable hash of text using BLAKE2b.
func Fingerprint(text string) string {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
