package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/slok/taskd/internal/gcode"
	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

var gcodeHeaderKeys = []string{
	gcode.KeyHeaderType,
	gcode.KeyThumbnail,
	gcode.KeyEstimatedTime,
	gcode.KeyMaxX,
	gcode.KeyMaxY,
	gcode.KeyMaxZ,
	gcode.KeyMinX,
	gcode.KeyMinY,
	gcode.KeyMinZ,
}

type gcodeRequest struct {
	HeadType  model.HeadType `json:"headType"`
	ToolPaths []string       `json:"toolPaths"`
	Thumbnail string         `json:"thumbnail"`
}

// gcodeGenerator joins tool paths into a G-code file with a metadata header.
type gcodeGenerator struct {
	files  files
	logger log.Logger
}

func (g gcodeGenerator) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req gcodeRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}

	rep := newStepReporter(report)
	tps, err := loadToolPaths(ctx, g.files, req.ToolPaths, rep, 2)
	if err != nil {
		return nil, err
	}

	bb, ok := boundingBox(tps)
	if !ok {
		return nil, fmt.Errorf("tool paths without moves: %w", model.ErrNotValid)
	}

	var body bytes.Buffer
	estimated, err := writeGcodeBody(ctx, &body, req.HeadType, tps, func(p float64) { rep.step(1, 2, p) })
	if err != nil {
		return nil, err
	}

	name := g.files.newName("gcode", "nc")
	f, err := g.files.create(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := map[string]string{
		gcode.KeyHeaderType:    string(req.HeadType),
		gcode.KeyEstimatedTime: formatFloat(estimated),
		gcode.KeyMaxX:          formatFloat(bb.Max.X),
		gcode.KeyMaxY:          formatFloat(bb.Max.Y),
		gcode.KeyMaxZ:          formatFloat(bb.Max.Z),
		gcode.KeyMinX:          formatFloat(bb.Min.X),
		gcode.KeyMinY:          formatFloat(bb.Min.Y),
		gcode.KeyMinZ:          formatFloat(bb.Min.Z),
	}
	if req.Thumbnail != "" {
		header[gcode.KeyThumbnail] = req.Thumbnail
	}
	if err := gcode.WriteHeader(f, gcodeHeaderKeys, header); err != nil {
		return nil, fmt.Errorf("could not write gcode header: %w", err)
	}
	if _, err := body.WriteTo(f); err != nil {
		return nil, fmt.Errorf("could not write gcode: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not stat gcode: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("could not close gcode: %w", err)
	}
	g.logger.Debugf("gcode written to %s, estimated time %.1fs", name, estimated)

	return model.TaskResult{GcodeFile: &model.GcodeFile{
		Name:          name,
		Size:          info.Size(),
		LastModified:  info.ModTime().UnixMilli(),
		EstimatedTime: estimated,
		Thumbnail:     req.Thumbnail,
		BoundingBox:   &bb,
	}}, nil
}

// writeGcodeBody writes the moves and returns the estimated run time in seconds.
func writeGcodeBody(ctx context.Context, w *bytes.Buffer, head model.HeadType, tps []ToolPath, report func(float64)) (float64, error) {
	w.WriteString("G90\nG21\n")

	var (
		pos      model.Point3
		seconds  float64
		toolOn   bool
		total    int
		written  int
		toolOnOp = "M3"
	)
	if head == model.HeadTypeLaser {
		toolOnOp = "M3 S255"
	}
	for _, tp := range tps {
		total += len(tp.Moves)
	}

	for _, tp := range tps {
		if err := checkCtx(ctx); err != nil {
			return 0, err
		}

		fmt.Fprintf(w, ";model: %s\n", tp.ModelID)
		for _, mv := range tp.Moves {
			if mv.Cut != toolOn && head != model.HeadTypePrinting {
				if mv.Cut {
					w.WriteString(toolOnOp + "\n")
				} else {
					w.WriteString("M5\n")
				}
				toolOn = mv.Cut
			}

			cmd := "G0"
			if mv.Cut {
				cmd = "G1"
			}
			fmt.Fprintf(w, "%s X%s Y%s Z%s F%s\n", cmd, formatFloat(mv.X), formatFloat(mv.Y), formatFloat(mv.Z), formatFloat(mv.Feed))

			next := model.Point3{X: mv.X, Y: mv.Y, Z: mv.Z}
			if mv.Feed > 0 {
				seconds += distance(pos, next) / mv.Feed * 60
			}
			pos = next

			written++
			report(float64(written) / float64(total))
		}
	}

	if toolOn {
		w.WriteString("M5\n")
	}

	return seconds, nil
}

func distance(a, b model.Point3) float64 {
	return math.Sqrt((b.X-a.X)*(b.X-a.X) + (b.Y-a.Y)*(b.Y-a.Y) + (b.Z-a.Z)*(b.Z-a.Z))
}

// formatFloat formats with at most three decimals, the G-code precision.
func formatFloat(f float64) string {
	return strconv.FormatFloat(math.Round(f*1000)/1000, 'f', -1, 64)
}
