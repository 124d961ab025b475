package testlog

import (
	"testing"

	"github.com/danmuck/kdctl/internal/logging"
	logs "github.com/danmuck/smplog"
)

// Start configures test logging and tags the output with the test name.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
