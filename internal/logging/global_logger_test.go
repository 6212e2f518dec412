package logging

import (
	"errors"
	"runtime"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLogFormatter_AppendsSortedFields(t *testing.T) {
	f := &LogFormatter{}
	entry := &log.Entry{
		Logger: log.StandardLogger(),
		Data: log.Fields{
			"op":    "seed_backends",
			"error": errors.New("disk full"),
		},
		Message: "store: write failed",
		Level:   log.WarnLevel,
		Caller:  &runtime.Frame{File: "store.go", Line: 42},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	require.Contains(t, string(out), "store: write failed")
	// keys are sorted, so error precedes op
	require.Regexp(t, `error=disk full.*op=seed_backends`, string(out))
}

func TestLogFormatter_NoFieldsLeavesMessagePlain(t *testing.T) {
	f := &LogFormatter{}
	entry := &log.Entry{
		Logger:  log.StandardLogger(),
		Message: "lifecycle: listening on :8008",
		Level:   log.InfoLevel,
		Caller:  &runtime.Frame{File: "controller.go", Line: 214},
	}

	out, err := f.Format(entry)
	require.NoError(t, err)
	require.Contains(t, string(out), "lifecycle: listening on :8008")
	require.NotContains(t, string(out), "=")
}
