package commands

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/internal/log"
)

func TestGlobalArgs(t *testing.T) {
	tests := map[string]struct {
		root    RootCommand
		expArgs []string
	}{
		"Defaults should only forward the logger type.": {
			root:    RootCommand{LoggerType: LoggerTypeDefault},
			expArgs: []string{"--logger", "default"},
		},
		"Enabled flags should be forwarded.": {
			root:    RootCommand{LoggerType: LoggerTypeJSON, Debug: true, NoLog: true, NoColor: true},
			expArgs: []string{"--logger", "json", "--debug", "--no-log", "--no-color"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expArgs, test.root.globalArgs())
		})
	}
}

func TestSubmitReadData(t *testing.T) {
	dir := t.TempDir()
	dataFile := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(dataFile, []byte(`{"a":1}`), 0o644))

	tests := map[string]struct {
		data    string
		stdin   string
		expData string
		expErr  bool
	}{
		"Inline JSON should be used as is.": {
			data:    `{"x":2}`,
			expData: `{"x":2}`,
		},
		"A file reference should read the file.": {
			data:    "@" + dataFile,
			expData: `{"a":1}`,
		},
		"Stdin reference should read stdin.": {
			data:    "@-",
			stdin:   `[1,2]`,
			expData: `[1,2]`,
		},
		"Invalid JSON should fail.": {
			data:   `{nope`,
			expErr: true,
		},
		"A missing file should fail.": {
			data:   "@" + filepath.Join(dir, "missing.json"),
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			c := SubmitCommand{
				rootCmd: &RootCommand{Stdin: strings.NewReader(test.stdin)},
				data:    test.data,
			}

			data, err := c.readData()
			if test.expErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.JSONEq(t, test.expData, string(data))
		})
	}
}

func TestListCommandRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/tasks":
			_, _ = w.Write([]byte(`[
				{"taskId":"t1","taskType":"generateGcode","headType":"laser","modelId":"m1","taskStatus":"completed"},
				{"taskId":"t2","taskType":"cutModel","headType":"printing","taskStatus":"failed","error":"boom"}
			]`))
		case "/api/tasks/history":
			_, _ = w.Write([]byte(`[{"taskId":"t0","taskType":"processImage","headType":"laser","taskStatus":"completed"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tests := map[string]struct {
		status  string
		history bool
		expIDs  []string
		expErr  bool
	}{
		"Without filter should list all tasks.": {
			expIDs: []string{"t1", "t2"},
		},
		"A status filter should only list matching tasks.": {
			status: "FAILED",
			expIDs: []string{"t2"},
		},
		"History should list the finished tasks.": {
			history: true,
			expIDs:  []string{"t0"},
		},
		"An invalid status filter should fail.": {
			status: "running",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			c := ListCommand{
				rootCmd:      &RootCommand{Stdout: &out, Logger: log.Noop},
				address:      strings.TrimPrefix(srv.URL, "http://"),
				statusFilter: test.status,
				history:      test.history,
				format:       "table",
			}

			err := c.Run(context.Background())
			if test.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			require.Len(t, lines, len(test.expIDs)+1)
			for i, id := range test.expIDs {
				assert.Equal(t, id, strings.Fields(lines[i+1])[0])
			}
		})
	}
}
