package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]int{"locks": 2}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]interface{}{"locks": float64(2)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E_DISALLOWED", "strategy 1 is disallowed", map[string]string{"host": "example.com"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_DISALLOWED", resp.Error.Code)
	assert.Equal(t, "strategy 1 is disallowed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("E_NOT_FOUND", "no lock", "example.com"))
			assert.Contains(t, buf.String(), "Error [E_NOT_FOUND]: no lock")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: example.com")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_Emit(t *testing.T) {
	text := func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "rendered for humans")
		return err
	}

	buf := &bytes.Buffer{}
	require.NoError(t, (&OutputFormatter{Format: "text", Writer: buf}).Emit([]int{1}, text))
	assert.Equal(t, "rendered for humans\n", buf.String())

	buf.Reset()
	require.NoError(t, (&OutputFormatter{Format: "json", Writer: buf}).Emit([]int{1}, text))
	assert.JSONEq(t, `{"status":"ok","data":[1]}`, buf.String())
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}

	formatter.VerboseLog("loading %s", "state.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "loading state.db\n", errOut.String())

	formatter.Verbose = false
	formatter.VerboseLog("dropped")
	assert.Equal(t, "loading state.db\n", errOut.String())
}

func TestTable(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, table(buf, "PROTOCOL\tHOST\tSTRATEGY", [][]interface{}{
		{"tls", "example.com", 3},
		{"udp", "discord.gg", 12},
	}))
	assert.Equal(t, ""+
		"PROTOCOL  HOST         STRATEGY\n"+
		"tls       example.com  3\n"+
		"udp       discord.gg   12\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad args")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "refused", errors.New("inner")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.Equal(t, "outer: refused: inner", wrapped.Error())
}
