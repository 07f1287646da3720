package badger

import (
	"encoding/binary"
	"time"
)

const (
	conversationPrefix = "conv"
	messagePrefix      = "msg"
	messageOrderPrefix = "msgconv"
	messageReplyPrefix = "msgreply"
	messageSeq         = "msgseq"
	vectorRecordPrefix = "vec"
)

// makeKey generates a key for a record by ID.
// Format: prefix:id
func makeKey(prefix, id string) []byte {
	buf := make([]byte, 0, len(prefix)+1+len(id))
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	return append(buf, id...)
}

// makeScopePrefix generates the prefix for all keys under a scope such as a
// conversation. The scope is length-prefixed so no scope is a prefix of another.
// Format: prefix:len(scope):scope:
func makeScopePrefix(prefix, scope string) []byte {
	buf := make([]byte, 0, len(prefix)+len(scope)+4)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(scope)))
	buf = append(buf, scope...)
	return append(buf, ':')
}

// makeMessageOrderKey generates a composite key for the per-conversation creation index.
// Format: msgconv:len:conversationID:seq
func makeMessageOrderKey(conversationID string, seq uint64) []byte {
	// Write in BigEndian order so lexicographic sort works correctly
	return binary.BigEndian.AppendUint64(makeScopePrefix(messageOrderPrefix, conversationID), seq)
}

// makeReplyKey generates the key that links a user message to its assistant reply.
func makeReplyKey(parentID string) []byte {
	return makeKey(messageReplyPrefix, parentID)
}

// MakeVectorPrefix generates the prefix shared by all vector records of a conversation.
func MakeVectorPrefix(conversationID string) []byte {
	return makeScopePrefix(vectorRecordPrefix, conversationID)
}

// MakeVectorKey generates the key of a vector record.
func MakeVectorKey(conversationID, recordID string) []byte {
	return append(MakeVectorPrefix(conversationID), recordID...)
}

// now is the current time at the precision records are stored with.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
