// Package testlog routes package logs through the test logging profile.
package testlog

import (
	"testing"

	"github.com/danmuck/homelink/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging and brackets t with start/done lines so
// interleaved session and mockserver logs can be attributed.
func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
	t.Cleanup(func() {
		log.Info().Str("test", t.Name()).Bool("failed", t.Failed()).Msg("done")
	})
}
