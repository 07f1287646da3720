package storage

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/folio/core"
)

var errBadLength = errors.New("length exceeds remaining bytes")

// codec visits record fields in a fixed order. The same visit sizes,
// encodes or decodes a record depending on the implementation.
type codec interface {
	str(*string)
	int(*int)
	uint64(*uint64)
	float32(*float32)
	float64(*float64)
	time(*time.Time)
	// length returns n when writing and the stored length when reading.
	length(n int) int
}

// unixMicro is the stored form of t. The zero time is 0.
func unixMicro(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(t.UnixMicro())
}

func codeConversation(c codec, v *core.Conversation) {
	c.str(&v.ID)
	c.str(&v.Title)
	c.str(&v.FileRef)
	c.str((*string)(&v.ProcessingStatus))
	c.time(&v.CreatedAt)
	c.time(&v.UpdatedAt)
}

func codeReference(c codec, v *core.Reference) {
	c.str(&v.Text)
	c.int(&v.PageNumber)
	c.str(&v.SectionTitle)
	c.str(&v.PageType)
	c.float64(&v.TOCConfidence)
	c.float32(&v.Score)
}

func codeMessage(c codec, v *core.Message) {
	c.str(&v.ID)
	c.str(&v.ConversationID)
	c.str((*string)(&v.Role))
	c.str(&v.Text)
	c.str(&v.FormattedText)
	c.str(&v.ContentType)
	c.str((*string)(&v.Status))
	c.str(&v.ParentMessageID)
	c.str(&v.Error)
	n := c.length(len(v.References))
	if n != len(v.References) {
		v.References = make([]core.Reference, n)
	}
	for i := range v.References {
		codeReference(c, &v.References[i])
	}
	c.uint64(&v.Seq)
	c.time(&v.CreatedAt)
	c.time(&v.UpdatedAt)
}

func codeVectorRecord(c codec, v *core.VectorRecord) {
	c.str(&v.ID)
	n := c.length(len(v.Vector))
	if n != len(v.Vector) {
		v.Vector = make([]float32, n)
	}
	for i := range v.Vector {
		c.float32(&v.Vector[i])
	}
	c.str(&v.Text)
	c.str(&v.ConversationID)
	c.int(&v.PageNumber)
	c.int(&v.ChunkIndex)
	c.str(&v.SectionTitle)
	c.str(&v.PageType)
	c.float64(&v.TOCConfidence)
	c.float64(&v.Confidence)
}

type sizer struct{ n int }

func (s *sizer) str(v *string)      { s.n += ord.String.Size(*v) }
func (s *sizer) int(v *int)         { s.n += varint.Int.Size(*v) }
func (s *sizer) uint64(v *uint64)   { s.n += varint.Uint64.Size(*v) }
func (s *sizer) float32(v *float32) { s.n += raw.Float32.Size(*v) }
func (s *sizer) float64(v *float64) { s.n += raw.Float64.Size(*v) }
func (s *sizer) time(v *time.Time)  { s.n += varint.Int.Size(unixMicro(*v)) }
func (s *sizer) length(n int) int {
	s.n += varint.Int.Size(n)
	return n
}

type encoder struct {
	bs []byte
	n  int
}

func (e *encoder) str(v *string)      { e.n += ord.String.Marshal(*v, e.bs[e.n:]) }
func (e *encoder) int(v *int)         { e.n += varint.Int.Marshal(*v, e.bs[e.n:]) }
func (e *encoder) uint64(v *uint64)   { e.n += varint.Uint64.Marshal(*v, e.bs[e.n:]) }
func (e *encoder) float32(v *float32) { e.n += raw.Float32.Marshal(*v, e.bs[e.n:]) }
func (e *encoder) float64(v *float64) { e.n += raw.Float64.Marshal(*v, e.bs[e.n:]) }
func (e *encoder) time(v *time.Time)  { e.n += varint.Int.Marshal(unixMicro(*v), e.bs[e.n:]) }
func (e *encoder) length(n int) int {
	e.n += varint.Int.Marshal(n, e.bs[e.n:])
	return n
}

// decoder stops reading at the first error; later calls leave fields zero.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) str(v *string) {
	if d.err != nil {
		return
	}
	var n int
	*v, n, d.err = ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
}

func (d *decoder) int(v *int) {
	if d.err != nil {
		return
	}
	var n int
	*v, n, d.err = varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
}

func (d *decoder) uint64(v *uint64) {
	if d.err != nil {
		return
	}
	var n int
	*v, n, d.err = varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
}

func (d *decoder) float32(v *float32) {
	if d.err != nil || !d.room(4) {
		return
	}
	var n int
	*v, n, d.err = raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += n
}

func (d *decoder) float64(v *float64) {
	if d.err != nil || !d.room(8) {
		return
	}
	var n int
	*v, n, d.err = raw.Float64.Unmarshal(d.bs[d.n:])
	d.n += n
}

func (d *decoder) time(v *time.Time) {
	var micros int
	d.int(&micros)
	if d.err != nil || micros == 0 {
		*v = time.Time{}
		return
	}
	*v = time.UnixMicro(int64(micros)).UTC()
}

// length reads a slice length. Every element takes at least one byte, so a
// length beyond the remaining input is corrupt.
func (d *decoder) length(int) int {
	var n int
	d.int(&n)
	if d.err != nil {
		return 0
	}
	if n < 0 || n > len(d.bs)-d.n {
		d.err = errBadLength
		return 0
	}
	return n
}

func (d *decoder) room(size int) bool {
	if len(d.bs)-d.n < size {
		d.err = errBadLength
		return false
	}
	return true
}
