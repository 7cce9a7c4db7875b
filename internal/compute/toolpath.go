package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

const (
	defaultLineSpacing = 0.1
	defaultWorkSpeed   = 1500
	defaultJogSpeed    = 3000
	maxRasterLines     = 100000
)

// ToolPath is the content of a tool path file.
type ToolPath struct {
	ModelID  string         `json:"modelId"`
	HeadType model.HeadType `json:"headType"`
	Moves    []Move         `json:"moves"`
}

// Move is a linear move of the tool head, feed rate in mm/min.
type Move struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Z    float64 `json:"z"`
	Cut  bool    `json:"cut,omitempty"`
	Feed float64 `json:"f"`
}

type toolPathModel struct {
	ModelID     string  `json:"modelId"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	LineSpacing float64 `json:"lineSpacing"`
	WorkSpeed   float64 `json:"workSpeed"`
	JogSpeed    float64 `json:"jogSpeed"`
	// Depth of the cut moves, only used by CNC heads.
	Depth float64 `json:"depth"`
}

func (m *toolPathModel) defaults() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("model %q size must be positive: %w", m.ModelID, model.ErrNotValid)
	}

	if m.LineSpacing <= 0 {
		m.LineSpacing = defaultLineSpacing
	}
	if m.Height/m.LineSpacing > maxRasterLines {
		return fmt.Errorf("model %q needs more than %d lines: %w", m.ModelID, maxRasterLines, model.ErrNotValid)
	}

	if m.WorkSpeed <= 0 {
		m.WorkSpeed = defaultWorkSpeed
	}

	if m.JogSpeed <= 0 {
		m.JogSpeed = defaultJogSpeed
	}

	return nil
}

type toolPathRequest struct {
	HeadType model.HeadType  `json:"headType"`
	Models   []toolPathModel `json:"models"`
}

// toolPathGenerator rasters each model area in alternating direction lines,
// one tool path file per model.
type toolPathGenerator struct {
	files  files
	logger log.Logger
}

func (g toolPathGenerator) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req toolPathRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if len(req.Models) == 0 {
		return nil, fmt.Errorf("no models: %w", model.ErrNotValid)
	}

	rep := newStepReporter(report)
	filenames := make([]string, 0, len(req.Models))
	for i, m := range req.Models {
		if err := m.defaults(); err != nil {
			return nil, err
		}

		tp, err := rasterToolPath(ctx, req.HeadType, m, func(p float64) { rep.step(i, len(req.Models), p) })
		if err != nil {
			return nil, err
		}

		name := g.files.newName("toolpath", "json")
		if err := g.files.writeJSON(name, tp); err != nil {
			return nil, err
		}
		g.logger.Debugf("tool path of model %s written to %s with %d moves", m.ModelID, name, len(tp.Moves))
		filenames = append(filenames, name)
	}

	return model.TaskResult{Filenames: filenames}, nil
}

func rasterToolPath(ctx context.Context, head model.HeadType, m toolPathModel, report func(float64)) (ToolPath, error) {
	lines := int(math.Floor(m.Height/m.LineSpacing)) + 1
	z := 0.0
	if head == model.HeadTypeCNC {
		z = -m.Depth
	}

	tp := ToolPath{ModelID: m.ModelID, HeadType: head, Moves: make([]Move, 0, 2*lines)}
	for l := range lines {
		if err := checkCtx(ctx); err != nil {
			return ToolPath{}, err
		}

		y := min(m.Y+float64(l)*m.LineSpacing, m.Y+m.Height)
		from, to := m.X, m.X+m.Width
		if l%2 == 1 {
			from, to = to, from
		}

		tp.Moves = append(tp.Moves,
			Move{X: from, Y: y, Z: 0, Feed: m.JogSpeed},
			Move{X: to, Y: y, Z: z, Cut: true, Feed: m.WorkSpeed},
		)
		report(float64(l+1) / float64(lines))
	}

	return tp, nil
}

// loadToolPaths reads the tool path files, reporting one step per file.
func loadToolPaths(ctx context.Context, fs files, names []string, rep *stepReporter, steps int) ([]ToolPath, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no tool paths: %w", model.ErrNotValid)
	}

	tps := make([]ToolPath, 0, len(names))
	for i, name := range names {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		var tp ToolPath
		if err := fs.readJSON(name, &tp); err != nil {
			return nil, err
		}
		tps = append(tps, tp)
		rep.step(0, steps, float64(i+1)/float64(len(names)))
	}

	return tps, nil
}

// boundingBox returns the box of all the moves, false when there are none.
func boundingBox(tps []ToolPath) (model.BoundingBox, bool) {
	var (
		bb    model.BoundingBox
		found bool
	)
	for _, tp := range tps {
		for _, mv := range tp.Moves {
			p := model.Point3{X: mv.X, Y: mv.Y, Z: mv.Z}
			if !found {
				bb = model.BoundingBox{Min: p, Max: p}
				found = true
				continue
			}
			bb.Extend(p)
		}
	}

	return bb, found
}
