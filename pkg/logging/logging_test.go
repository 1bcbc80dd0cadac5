package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput(&buf, false)
	log.Debug("hidden")
	log.WithField("site", "sentai").Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `msg=shown site=sentai`)

	buf.Reset()
	log = NewWithOutput(&buf, true)
	log.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}
