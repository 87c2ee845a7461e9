package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor_ServerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sErr := &ServerError{
		Op:       "database setup",
		Err:      errors.New("disk full"),
		ExitCode: ExitDatabaseError,
	}

	assert.Equal(t, ExitDatabaseError, exitCodeFor(logger, "failed to create server", sErr))
}

func TestExitCodeFor_WrappedServerError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sErr := &ServerError{
		Op:       "http server",
		Err:      errors.New("port in use"),
		ExitCode: ExitHTTPServerError,
	}

	assert.Equal(t, ExitHTTPServerError, exitCodeFor(logger, "server stopped with error", fmt.Errorf("start: %w", sErr)))
}

func TestExitCodeFor_PlainError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.Equal(t, ExitConfigError, exitCodeFor(logger, "server stopped with error", errors.New("boom")))
}
