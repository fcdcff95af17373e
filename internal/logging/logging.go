package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event codes attached to log lines as the "code" field. They are stable
// identifiers for operational correlation; the numbers carry no meaning
// beyond their category.
const (
	CodeDirCreated     = 100
	CodeLoggedIn       = 200
	CodeMonitorStarted = 201
	CodeTrigger        = 210
	CodePending        = 211
	CodeExportCommand  = 220
	CodeGarmin         = 221
	CodeExportSaved    = 222
	CodeSong           = 223
	CodeAgentInput     = 230
	CodeAgentReply     = 231
	CodeTimeout        = 240
	CodeMonitorStopped = 250
	CodeGuildMissing   = 251
	CodeMonitoring     = 252
	CodeTargetFound    = 253
	CodeJoined         = 254
	CodeFileSent       = 273
	CodeChannelMissing = 274
	CodeSpeakFailed    = 301
	CodeTranscription  = 304
	CodeCueFailed      = 305
	CodeCommandCue     = 306
	CodeJoinFailed     = 307
	CodeExportFailed   = 309
	CodeSendFailed     = 313
)

// Setup configures the global zerolog logger for console output.
func Setup(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	zerolog.SetGlobalLevel(ParseLevel(level))

	log.Info().Str("level", level).Msg("Logging configured")
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
