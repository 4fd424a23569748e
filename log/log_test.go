package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogfRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(WARNINGS)
	defer SetLevel(WARNINGS)

	Logf(DEBUG, "should not appear %d", 1)
	assert.Empty(t, buf.String())

	Logf(ERRORS, "boom %s", "here")
	assert.True(t, strings.Contains(buf.String(), "boom here"))
}

func TestEnabled(t *testing.T) {
	SetLevel(INFO)
	defer SetLevel(WARNINGS)

	assert.True(t, Enabled(ERRORS))
	assert.True(t, Enabled(INFO))
	assert.False(t, Enabled(DEBUG))
}
