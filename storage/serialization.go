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


package storage

import (
	"fmt"

	"github.com/poiesic/folio/core"
)

// Records are MUS-encoded. Field order is fixed by the code* functions in
// mus.go; append new fields at the end only.

// MarshalConversation serializes a Conversation to bytes.
func MarshalConversation(conv *core.Conversation) ([]byte, error) {
	return marshal(conv, codeConversation), nil
}

// UnmarshalConversation deserializes a Conversation from bytes.
func UnmarshalConversation(data []byte) (*core.Conversation, error) {
	return unmarshal(data, codeConversation)
}

// MarshalMessage serializes a Message to bytes.
func MarshalMessage(msg *core.Message) ([]byte, error) {
	return marshal(msg, codeMessage), nil
}

// UnmarshalMessage deserializes a Message from bytes.
func UnmarshalMessage(data []byte) (*core.Message, error) {
	return unmarshal(data, codeMessage)
}

// MarshalVectorRecord serializes a VectorRecord to bytes.
func MarshalVectorRecord(record *core.VectorRecord) ([]byte, error) {
	return marshal(record, codeVectorRecord), nil
}

// UnmarshalVectorRecord deserializes a VectorRecord from bytes.
func UnmarshalVectorRecord(data []byte) (*core.VectorRecord, error) {
	return unmarshal(data, codeVectorRecord)
}

func marshal[T any](v *T, code func(codec, *T)) []byte {
	var s sizer
	code(&s, v)
	e := &encoder{bs: make([]byte, s.n)}
	code(e, v)
	return e.bs[:e.n]
}

func unmarshal[T any](data []byte, code func(codec, *T)) (*T, error) {
	var v T
	d := &decoder{bs: data}
	code(d, &v)
	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, d.err)
	}
	if d.n != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(data)-d.n)
	}
	return &v, nil
}
