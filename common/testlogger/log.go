package testlogger

import (
	"os"
	"testing"

	"github.com/fzmap/mapserver/common/log"
)

// Level picks debug when MAPSERVER_TEST_LOGS=DEBUG, info otherwise.
func Level(t testing.TB) int {
	if v, ok := os.LookupEnv(log.TestLogsEnv); ok && v == "DEBUG" {
		t.Log("Enabling DebugLevel logs")
		return log.DebugLevel
	}
	return log.InfoLevel
}

// New returns a logger tagged with the running test name.
func New(t testing.TB) log.Logger {
	return log.New(nil, Level(t), true).With("testName", t.Name())
}
