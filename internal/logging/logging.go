/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/friendsincode/grimnir_ads/internal/logbuffer"
)

// Setup configures zerolog for the process. Development gets a console writer
// at debug level; everything else logs JSON at info level. When buffer is
// non-nil, JSON log lines are also captured for the admin log tail.
func Setup(environment string, buffer *logbuffer.Buffer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	var writer io.Writer = os.Stdout
	if environment == "development" {
		level = zerolog.DebugLevel
		writer = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	if buffer != nil {
		writer = logbuffer.NewWriter(buffer, writer)
	}

	logger := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	log.Logger = logger
	return logger
}
