package compute

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

const (
	defaultLayerThickness = 1.0
	maxLayers             = 10000
	stlBinaryHeaderSize   = 84
	stlBinaryFacetSize    = 50
)

type triangle [3]model.Point3

// STLInfo describes a sliced model.
type STLInfo struct {
	Filename    string            `json:"filename"`
	Triangles   int               `json:"triangles"`
	BoundingBox model.BoundingBox `json:"boundingBox"`
	Size        model.Point3      `json:"size"`
}

// SVGInfo describes the slices of a model.
type SVGInfo struct {
	LayerThickness float64    `json:"layerThickness"`
	Layers         []SVGLayer `json:"layers"`
}

// SVGLayer is one slice of a model.
type SVGLayer struct {
	Z        float64 `json:"z"`
	Filename string  `json:"filename"`
}

type cutModelRequest struct {
	UploadName     string  `json:"uploadName"`
	LayerThickness float64 `json:"layerThickness"`
}

// modelCutter slices an STL model in horizontal layers, one SVG per layer.
type modelCutter struct {
	files  files
	logger log.Logger
}

func (c modelCutter) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req cutModelRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if req.LayerThickness <= 0 {
		req.LayerThickness = defaultLayerThickness
	}

	f, err := c.files.open(req.UploadName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tris, err := parseSTL(f)
	if err != nil {
		return nil, err
	}
	if len(tris) == 0 {
		return nil, fmt.Errorf("model without triangles: %w", model.ErrNotValid)
	}

	bb := model.BoundingBox{Min: tris[0][0], Max: tris[0][0]}
	for _, t := range tris {
		for _, p := range t {
			bb.Extend(p)
		}
	}
	height := bb.Max.Z - bb.Min.Z
	layers := max(int(math.Ceil(height/req.LayerThickness)), 1)
	if layers > maxLayers {
		return nil, fmt.Errorf("model needs more than %d layers: %w", maxLayers, model.ErrNotValid)
	}

	rep := newStepReporter(report)
	svgInfo := SVGInfo{LayerThickness: req.LayerThickness, Layers: make([]SVGLayer, 0, layers)}
	for i := range layers {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		// The middle of the layer avoids vertices lying on the plane.
		z := bb.Min.Z + req.LayerThickness*(float64(i)+0.5)
		name := c.files.newName("layer", "svg")
		if err := c.writeLayer(name, bb, slice(tris, z)); err != nil {
			return nil, err
		}
		svgInfo.Layers = append(svgInfo.Layers, SVGLayer{Z: z, Filename: name})
		rep.step(i, layers, 1)
	}

	stlInfo := STLInfo{
		Filename:    req.UploadName,
		Triangles:   len(tris),
		BoundingBox: bb,
		Size:        model.Point3{X: bb.Max.X - bb.Min.X, Y: bb.Max.Y - bb.Min.Y, Z: height},
	}
	rawSTL, err := json.Marshal(stlInfo)
	if err != nil {
		return nil, fmt.Errorf("could not encode stl info: %w", err)
	}
	rawSVG, err := json.Marshal(svgInfo)
	if err != nil {
		return nil, fmt.Errorf("could not encode svg info: %w", err)
	}
	c.logger.Debugf("model %s cut in %d layers", req.UploadName, layers)

	return model.TaskResult{STLInfo: rawSTL, SVGInfo: rawSVG}, nil
}

func (c modelCutter) writeLayer(name string, bb model.BoundingBox, segments [][2]model.Point3) error {
	f, err := c.files.create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	var d strings.Builder
	for _, s := range segments {
		fmt.Fprintf(&d, "M%s %s L%s %s ", formatFloat(s[0].X), formatFloat(s[0].Y), formatFloat(s[1].X), formatFloat(s[1].Y))
	}

	w := bufio.NewWriter(f)
	writeSVGStart(w, bb.Min.X, bb.Min.Y, bb.Max.X-bb.Min.X, bb.Max.Y-bb.Min.Y)
	fmt.Fprintf(w, "<path d=%q fill=\"none\" stroke=\"black\" stroke-width=\"0.1\"/>\n", strings.TrimSpace(d.String()))
	writeSVGEnd(w)
	if err := w.Flush(); err != nil {
		return fmt.Errorf("could not write %s: %w", name, err)
	}

	return f.Close()
}

// slice returns the segments where the triangles cross the plane at height z.
func slice(tris []triangle, z float64) [][2]model.Point3 {
	var segments [][2]model.Point3
	for _, t := range tris {
		var pts []model.Point3
		for i := range 3 {
			a, b := t[i], t[(i+1)%3]
			if (a.Z < z) == (b.Z < z) {
				continue
			}
			r := (z - a.Z) / (b.Z - a.Z)
			pts = append(pts, model.Point3{X: a.X + r*(b.X-a.X), Y: a.Y + r*(b.Y-a.Y), Z: z})
		}
		if len(pts) == 2 {
			segments = append(segments, [2]model.Point3{pts[0], pts[1]})
		}
	}

	return segments
}

// parseSTL reads binary and ASCII STL models.
func parseSTL(r io.Reader) ([]triangle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("could not read stl: %w", err)
	}

	if len(data) >= stlBinaryHeaderSize {
		n := binary.LittleEndian.Uint32(data[80:84])
		if uint64(len(data)) == stlBinaryHeaderSize+uint64(n)*stlBinaryFacetSize {
			return parseBinarySTL(data[stlBinaryHeaderSize:], int(n)), nil
		}
	}

	if !bytes.HasPrefix(bytes.TrimSpace(data), []byte("solid")) {
		return nil, fmt.Errorf("unknown stl format: %w", model.ErrNotValid)
	}
	return parseASCIISTL(data)
}

func parseBinarySTL(data []byte, n int) []triangle {
	tris := make([]triangle, 0, n)
	for i := range n {
		facet := data[i*stlBinaryFacetSize:]
		var t triangle
		// The first 12 bytes are the normal.
		for v := range 3 {
			off := 12 + v*12
			t[v] = model.Point3{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off+4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(facet[off+8:]))),
			}
		}
		tris = append(tris, t)
	}

	return tris
}

func parseASCIISTL(data []byte) ([]triangle, error) {
	var (
		tris []triangle
		t    triangle
		v    int
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "vertex" {
			continue
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("invalid vertex at line %d: %w", line, model.ErrNotValid)
		}

		var coords [3]float64
		for i := range 3 {
			f, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid vertex at line %d: %w", line, model.ErrNotValid)
			}
			coords[i] = f
		}
		t[v] = model.Point3{X: coords[0], Y: coords[1], Z: coords[2]}
		v++
		if v == 3 {
			tris = append(tris, t)
			v = 0
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read stl: %w", err)
	}

	return tris, nil
}
