package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/folio/core"
)

func sampleMessage() *core.Message {
	created := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	return &core.Message{
		ID:              "m2",
		ConversationID:  "c1",
		Role:            core.RoleAssistant,
		Text:            "Revenue grew 23% [p. 5]",
		FormattedText:   "Revenue grew 23% [p. 5]\n\nSources: p. 5",
		ContentType:     core.ContentTypeMarkdown,
		Status:          core.MessageCompleted,
		ParentMessageID: "m1",
		References: []core.Reference{
			{Text: "Revenue grew 23%", PageNumber: 5, SectionTitle: "Results", PageType: core.PageTypeContent, Score: 0.91},
			{Text: "Contents", PageNumber: 1, PageType: core.PageTypeTOC, TOCConfidence: 0.8, Score: 0.4},
		},
		Seq:       7,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Second),
	}
}

func TestMessageSerialization_PreservesFields(t *testing.T) {
	msg := sampleMessage()

	data, err := MarshalMessage(msg)
	require.NoError(t, err)

	got, err := UnmarshalMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestConversationSerialization_ZeroTimesAndEmptyStrings(t *testing.T) {
	conv := &core.Conversation{ID: "c1", ProcessingStatus: core.ProcessingPending}

	data, err := MarshalConversation(conv)
	require.NoError(t, err)

	got, err := UnmarshalConversation(data)
	require.NoError(t, err)
	assert.Equal(t, conv, got)
	assert.True(t, got.CreatedAt.IsZero())
}

func TestSerialization_TruncatesToMicroseconds(t *testing.T) {
	conv := &core.Conversation{
		ID:        "c1",
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 123456789, time.UTC),
	}
	data, err := MarshalConversation(conv)
	require.NoError(t, err)
	assert.Equal(t, 123456789, conv.CreatedAt.Nanosecond(), "marshal leaves the input alone")

	got, err := UnmarshalConversation(data)
	require.NoError(t, err)
	assert.Equal(t, 123456000, got.CreatedAt.Nanosecond())
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestVectorRecordSerialization(t *testing.T) {
	record := &core.VectorRecord{
		ID:             "c1-0",
		Vector:         []float32{0.25, -1, 3.5},
		Text:           "Revenue grew 23% in Q3.",
		ConversationID: "c1",
		PageNumber:     5,
		ChunkIndex:     0,
		SectionTitle:   "Results",
		PageType:       core.PageTypeContent,
		TOCConfidence:  0.1,
		Confidence:     0.87,
	}

	data, err := MarshalVectorRecord(record)
	require.NoError(t, err)

	got, err := UnmarshalVectorRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, got)
}

func TestUnmarshal_Corrupt(t *testing.T) {
	_, err := UnmarshalConversation([]byte("{not json"))
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalVectorRecord([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestUnmarshal_TruncatedInput(t *testing.T) {
	data, err := MarshalMessage(sampleMessage())
	require.NoError(t, err)

	for n := 0; n < len(data); n++ {
		_, err := UnmarshalMessage(data[:n])
		require.ErrorIs(t, err, ErrSerializationFailed, "prefix of %d bytes", n)
	}
}

func TestUnmarshal_TrailingBytes(t *testing.T) {
	data, err := MarshalVectorRecord(&core.VectorRecord{ID: "c1-0", ConversationID: "c1"})
	require.NoError(t, err)

	_, err = UnmarshalVectorRecord(append(data, 0x00))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
