package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/printer"
)

func gcodeTaskFixture() model.TaskSnapshot {
	return model.TaskSnapshot{
		TaskID:     "t1",
		TaskType:   model.TaskTypeGenerateGcode,
		HeadType:   model.HeadTypeLaser,
		ModelID:    "m1",
		TaskStatus: model.TaskStatusCompleted,
		FinishTime: time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC).UnixMilli(),
		TaskResult: model.TaskResult{
			GcodeFile: &model.GcodeFile{
				Name:          "gcode_01.nc",
				Size:          2048,
				EstimatedTime: 3723,
				BoundingBox:   &model.BoundingBox{Max: model.Point3{X: 10, Y: 2}},
			},
		},
	}
}

func TestTablePrinterPrintTask(t *testing.T) {
	tests := map[string]struct {
		task       model.TaskSnapshot
		expContain []string
	}{
		"A G-code task should print its file.": {
			task: gcodeTaskFixture(),
			expContain: []string{
				"ID:          t1",
				"Status:      completed",
				"Finished:    2026-01-30 10:00:00 UTC",
				"G-code:      gcode_01.nc (2.0 KB)",
				"Estimated:   1h2m3s",
				"Bounds:      [0, 0, 0] - [10, 2, 0]",
			},
		},
		"A failed task should print its error.": {
			task: model.TaskSnapshot{
				TaskID:     "t2",
				TaskType:   model.TaskTypeCutModel,
				HeadType:   model.HeadTypePrinting,
				TaskStatus: model.TaskStatusFailed,
				Error:      "worker fault",
			},
			expContain: []string{
				"Model:       -",
				"Finished:    -",
				"Error:       worker fault",
			},
		},
		"An image task should print its size.": {
			task: model.TaskSnapshot{
				TaskID:     "t3",
				TaskType:   model.TaskTypeProcessImage,
				TaskStatus: model.TaskStatusCompleted,
				TaskResult: model.TaskResult{Filename: "image.png", Width: 64, Height: 32},
			},
			expContain: []string{"Image:       image.png (64x32)"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			p := printer.NewTablePrinter(&buf)

			err := p.PrintTask(test.task)
			require.NoError(t, err)

			out := buf.String()
			for _, exp := range test.expContain {
				assert.Contains(t, out, exp)
			}
		})
	}
}

func TestTablePrinterPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintTasks([]model.TaskSnapshot{gcodeTaskFixture()})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"ID", "TYPE", "HEAD", "MODEL", "STATUS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"t1", "generateGcode", "laser", "m1", "completed"}, strings.Fields(lines[1]))
}

func TestJSONPrinterPrintTask(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintTask(gcodeTaskFixture())
	require.NoError(t, err)

	var got model.TaskSnapshot
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, gcodeTaskFixture(), got)
}

func TestJSONPrinterPrintTasksEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	err := p.PrintTasks(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", printer.FormatBytes(-1))
	assert.Equal(t, "512 B", printer.FormatBytes(512))
	assert.Equal(t, "1.5 KB", printer.FormatBytes(1536))
	assert.Equal(t, "700.0 MB", printer.FormatBytes(700*1024*1024))

	assert.Equal(t, "0s", printer.FormatSeconds(0))
	assert.Equal(t, "3s", printer.FormatSeconds(3.2))
	assert.Equal(t, "2m0s", printer.FormatSeconds(119.6))

	assert.Equal(t, "-", printer.FormatFinishTime(0))
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := printer.NewProgressBar(&buf, "cutModel")

	pb.Update(0.5)
	pb.Update(0.501) // Same percent, not rendered.
	pb.Update(2)
	pb.Finish()

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, " 50%")
	assert.Contains(t, out, "["+strings.Repeat("=", 40)+"] 100%")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
