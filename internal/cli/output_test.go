package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/avcs/internal/dag"
)

func TestExitError(t *testing.T) {
	inner := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "open storage", inner)

	assert.Equal(t, "open storage: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ExitFailure, GetExitCode(inner))
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}

func TestOutputFormatter_Success(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Success(map[string]int{"n": 1}, "done"))
	assert.Equal(t, "done\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Success(map[string]int{"n": 1}, "done"))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, buf.String())
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"history error", fmt.Errorf("checkout: %w", dag.NewNotFoundError("a9")), "NOT_FOUND", ExitFailure},
		{"command error", NewExitError(ExitCommandError, "bad value"), "ERROR", ExitCommandError},
		{"plain error", errors.New("boom"), "ERROR", ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			f := &OutputFormatter{Format: "json", Writer: &buf}
			err := f.Fail("op", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}

	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	_ = f.Fail("checkout", dag.NewNotFoundError("a9"))
	assert.Contains(t, buf.String(), `"action_id":"a9"`)

	buf.Reset()
	f.Format = "text"
	_ = f.Fail("checkout", errors.New("boom"))
	assert.Empty(t, buf.String())
}
