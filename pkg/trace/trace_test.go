package trace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitAndLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Warn, JSONOutput: true, Output: &buf})
	assert.Equal(t, Warn, CurrentLevel())

	SetLevel(Debug)
	assert.Equal(t, Debug, CurrentLevel())
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Debug, JSONOutput: true, Output: &buf})
	lg := WithComponent("bus")
	lg.Info().Msg("hello")
	assert.Contains(t, buf.String(), "\"component\":\"bus\"")
}

func TestAPILogsError(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Debug, JSONOutput: true, Output: &buf})
	API("apiengine", "GpuUpdate", assertErr{})
	assert.Contains(t, buf.String(), "api call failed")
}

func TestFlushNoopOnPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: Info, JSONOutput: true, Output: &buf})
	assert.NoError(t, Flush())
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
