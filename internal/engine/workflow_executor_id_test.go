package engine

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

var execIDPattern = regexp.MustCompile(`^exec_[0-9]+_[0-9a-z]+$`)

// Auto-generated execution ids follow exec_<unix-ms>_<random-base36> and
// are unique across calls.
func TestGenerateExecutionID_Format(t *testing.T) {
	a := generateExecutionID()
	b := generateExecutionID()

	assert.Regexp(t, execIDPattern, a)
	assert.Regexp(t, execIDPattern, b)
	assert.NotEqual(t, a, b)
}
