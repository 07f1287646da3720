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

import "time"

// ProcessingStatus tracks a conversation's document through ingestion.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks a message through the answering state machine.
// Completed and Error are terminal.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageError      MessageStatus = "error"
)

// Terminal reports whether no further transitions are allowed from s.
func (s MessageStatus) Terminal() bool {
	return s == MessageCompleted || s == MessageError
}

// Content types for Message.ContentType.
const (
	ContentTypeText     = "text"
	ContentTypeMarkdown = "markdown"
)

// Page types recorded on vector records.
const (
	PageTypeContent = "content"
	PageTypeTOC     = "toc"
)

// Conversation is an uploaded document together with its chat thread.
type Conversation struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	FileRef          string           `json:"file_ref,omitempty"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// Ready reports whether questions can be answered against the conversation.
func (c *Conversation) Ready() bool {
	return c.ProcessingStatus == ProcessingCompleted
}

// Message is a single turn in a conversation.
type Message struct {
	ID              string        `json:"id"`
	ConversationID  string        `json:"conversation_id"`
	Role            Role          `json:"role"`
	Text            string        `json:"text"`
	FormattedText   string        `json:"formatted_text,omitempty"`
	ContentType     string        `json:"content_type"`
	Status          MessageStatus `json:"status"`
	ParentMessageID string        `json:"parent_message_id,omitempty"`
	Error           string        `json:"error,omitempty"`
	References      []Reference   `json:"references,omitempty"`
	Seq             uint64        `json:"seq"` // creation order within the store
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// TextItem is a positioned run of text on a page. Y grows downward from the top of the page.
type TextItem struct {
	Text   string  `json:"text"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Page is the parsed content of one page. Items is empty when the source has no layout information.
type Page struct {
	Number int        `json:"number"`
	Text   string     `json:"text"`
	Items  []TextItem `json:"items,omitempty"`
}

// Document is the output of the parse step.
type Document struct {
	Title string
	Pages []Page
}

// Chunk is a bounded unit of page text, the unit of embedding and retrieval.
type Chunk struct {
	Text         string
	PageNumber   int
	SectionTitle string
	Coordinates  []TextItem
}

// VectorRecord is an embedded chunk as stored in the vector store.
type VectorRecord struct {
	ID             string    `json:"id"`
	Vector         []float32 `json:"vector"`
	Text           string    `json:"text"`
	ConversationID string    `json:"conversation_id"`
	PageNumber     int       `json:"page_number"`
	ChunkIndex     int       `json:"chunk_index"`
	SectionTitle   string    `json:"section_title,omitempty"`
	PageType       string    `json:"page_type,omitempty"`
	TOCConfidence  float64   `json:"toc_confidence,omitempty"`
	Confidence     float64   `json:"confidence,omitempty"`
}

// MatchMetadata is the typed payload returned with a vector match.
type MatchMetadata struct {
	ConversationID string
	Text           string
	PageNumber     int
	SectionTitle   string
	PageType       string
	TOCConfidence  float64
	ChunkID        string
}

// Match is a single similarity hit from the vector store.
type Match struct {
	ID       string
	Score    float32
	Metadata MatchMetadata
}

// MatchFromRecord builds the match returned for a stored record.
func MatchFromRecord(record *VectorRecord, score float32) Match {
	return Match{
		ID:    record.ID,
		Score: score,
		Metadata: MatchMetadata{
			ConversationID: record.ConversationID,
			Text:           record.Text,
			PageNumber:     record.PageNumber,
			SectionTitle:   record.SectionTitle,
			PageType:       record.PageType,
			TOCConfidence:  record.TOCConfidence,
			ChunkID:        Fingerprint(record.ID),
		},
	}
}

// Reference is a ranked chunk handed to the answer generator as evidence.
type Reference struct {
	Text          string  `json:"text"`
	PageNumber    int     `json:"page_number"`
	SectionTitle  string  `json:"section_title,omitempty"`
	PageType      string  `json:"page_type,omitempty"`
	TOCConfidence float64 `json:"toc_confidence,omitempty"`
	Score         float32 `json:"score"`
}
