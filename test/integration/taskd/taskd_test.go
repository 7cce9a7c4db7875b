package taskd_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/internal/model"
	inttaskd "github.com/slok/taskd/test/integration/taskd"
)

func submit(t *testing.T, config inttaskd.Config, svc inttaskd.Service, taskType, modelID, data string) (model.TaskSnapshot, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stdout, stderr, err := inttaskd.RunTaskdCmd(ctx, config, svc,
		"submit",
		"--type", taskType,
		"--head-type", "laser",
		"--model-id", modelID,
		"--data", data,
		"--format", "json",
	)

	var snap model.TaskSnapshot
	require.NoError(t, json.Unmarshal(stdout, &snap), "stdout: %s, stderr: %s", stdout, stderr)
	return snap, err
}

func TestTaskdPipeline(t *testing.T) {
	config := inttaskd.NewConfig(t)
	svc := inttaskd.StartService(t, config, 2)

	require := require.New(t)
	assert := assert.New(t)

	// Tool path.
	toolPath, err := submit(t, config, svc, "generateToolPath", "plate",
		`{"headType":"laser","models":[{"modelId":"plate","width":20,"height":5,"lineSpacing":0.5}]}`)
	require.NoError(err)
	assert.Equal(model.TaskStatusCompleted, toolPath.TaskStatus)
	require.Len(toolPath.Filenames, 1)
	assert.FileExists(filepath.Join(svc.TmpDir, toolPath.Filenames[0]))

	// G-code from the tool path, it runs on a worker process too.
	data, err := json.Marshal(map[string]any{"headType": "laser", "toolPaths": toolPath.Filenames})
	require.NoError(err)
	gcode, err := submit(t, config, svc, "generateGcode", "plate", string(data))
	require.NoError(err)
	assert.Equal(model.TaskStatusCompleted, gcode.TaskStatus)
	require.NotNil(gcode.GcodeFile)
	assert.Positive(gcode.GcodeFile.EstimatedTime)
	assert.Equal("laser", gcode.GcodeFile.Header["header_type"])

	raw, err := os.ReadFile(filepath.Join(svc.TmpDir, gcode.GcodeFile.Name))
	require.NoError(err)
	assert.Contains(string(raw), ";model: plate")

	// A task the worker rejects fails, the service keeps working.
	failed, err := submit(t, config, svc, "generateViewPath", "plate", `{"toolPaths":[]}`)
	assert.Error(err)
	assert.Equal(model.TaskStatusFailed, failed.TaskStatus)
	assert.NotEmpty(failed.Error)

	// History lists the finished tasks, newest first.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ids []string
	require.Eventually(func() bool {
		stdout, _, err := inttaskd.RunTaskdCmd(ctx, config, svc, "list", "--history", "--format", "json")
		if err != nil {
			return false
		}
		var tasks []model.TaskSnapshot
		if json.Unmarshal(stdout, &tasks) != nil || len(tasks) != 3 {
			return false
		}
		ids = []string{tasks[0].TaskID, tasks[1].TaskID, tasks[2].TaskID}
		return true
	}, 5*time.Second, 100*time.Millisecond)
	assert.Equal([]string{failed.TaskID, gcode.TaskID, toolPath.TaskID}, ids)

	// Nothing is running.
	stdout, _, err := inttaskd.RunTaskdCmd(ctx, config, svc, "list", "--format", "json")
	require.NoError(err)
	assert.JSONEq(`[]`, string(stdout))
}

func TestTaskdSubmitInvalidType(t *testing.T) {
	config := inttaskd.NewConfig(t)
	svc := inttaskd.StartService(t, config, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, stderr, err := inttaskd.RunTaskdCmd(ctx, config, svc, "submit", "--type", "render")
	require.Error(t, err)
	assert.Contains(t, string(stderr), "render")
}
