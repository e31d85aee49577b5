package graph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressTracker_ReportsAtInterval(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressTracker(&buf, "Embedding concepts", 10, 5)

	p.Increment(3)
	assert.Empty(t, buf.String())

	p.Increment(3)
	assert.Contains(t, buf.String(), "Embedding concepts: 6/10 (60.0%)")

	p.Increment(100)
	p.Finish()
	out := buf.String()
	assert.Contains(t, out, "10/10 (100.0%)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestProgressTracker_NilWriter(t *testing.T) {
	p := newProgressTracker(nil, "x", 0, 0)
	p.Increment(1)
	p.Finish()
}
