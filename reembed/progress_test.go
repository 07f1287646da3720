package reembed

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_ReportsEveryInterval(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out, 5, 2)

	p.Record(true)
	assert.Empty(t, out.String())
	p.Record(false)
	assert.Contains(t, out.String(), "\rReembedded 2/5 documents (40.0%), 1 failed")

	p.Record(true)
	p.Record(true)
	p.Record(true)
	assert.Contains(t, out.String(), "5/5 documents (100.0%), 1 failed")

	done, failed := p.Counts()
	assert.Equal(t, 5, done)
	assert.Equal(t, 1, failed)
}

func TestProgress_IgnoresExtraRecords(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out, 1, 1)
	p.Record(true)
	p.Record(false)

	done, failed := p.Counts()
	assert.Equal(t, 1, done)
	assert.Zero(t, failed)
}

func TestProgress_FinishFlushesAndEndsLine(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out, 10, 100)
	p.Record(true)
	p.Finish()

	assert.Contains(t, out.String(), "1/10 documents (10.0%)")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
	assert.GreaterOrEqual(t, p.Elapsed().Nanoseconds(), int64(0))
}
