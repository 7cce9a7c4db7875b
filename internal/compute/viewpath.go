package compute

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

// ViewPath is the content of a preview file: line segments as flat lists of
// coordinates, x1 y1 z1 x2 y2 z2 per segment.
type ViewPath struct {
	BoundingBox model.BoundingBox `json:"boundingBox"`
	Cuts        []float64         `json:"cuts"`
	Jogs        []float64         `json:"jogs"`
}

type viewPathRequest struct {
	ToolPaths []string `json:"toolPaths"`
}

// viewPathGenerator converts tool paths into preview segments.
type viewPathGenerator struct {
	files  files
	logger log.Logger
}

func (g viewPathGenerator) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req viewPathRequest
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

	vp := ViewPath{BoundingBox: bb, Cuts: []float64{}, Jogs: []float64{}}
	for i, tp := range tps {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		for j := 1; j < len(tp.Moves); j++ {
			from, to := tp.Moves[j-1], tp.Moves[j]
			segment := []float64{from.X, from.Y, from.Z, to.X, to.Y, to.Z}
			if to.Cut {
				vp.Cuts = append(vp.Cuts, segment...)
			} else {
				vp.Jogs = append(vp.Jogs, segment...)
			}
		}
		rep.step(1, 2, float64(i+1)/float64(len(tps)))
	}

	name := g.files.newName("viewpath", "json")
	if err := g.files.writeJSON(name, vp); err != nil {
		return nil, err
	}
	g.logger.Debugf("view path written to %s", name)

	return model.TaskResult{ViewPathFile: name}, nil
}
