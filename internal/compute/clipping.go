package compute

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

// Point is a 2D point, encoded as [x, y].
type Point [2]float64

// Rect is an axis aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type svgClippingRequest struct {
	Polygons [][]Point `json:"polygons"`
	Clip     Rect      `json:"clip"`
}

// svgClipper clips polygons against a rectangle and writes them as SVG.
type svgClipper struct {
	files  files
	logger log.Logger
}

func (c svgClipper) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req svgClippingRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if req.Clip.Width <= 0 || req.Clip.Height <= 0 {
		return nil, fmt.Errorf("clip rectangle size must be positive: %w", model.ErrNotValid)
	}

	rep := newStepReporter(report)
	clipped := make([][]Point, 0, len(req.Polygons))
	for i, poly := range req.Polygons {
		if err := checkCtx(ctx); err != nil {
			return nil, err
		}

		if out := ClipPolygon(poly, req.Clip); len(out) >= 3 {
			clipped = append(clipped, out)
		}
		rep.step(i, len(req.Polygons), 1)
	}

	name := c.files.newName("clip", "svg")
	f, err := c.files.create(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	writeSVGStart(w, req.Clip.X, req.Clip.Y, req.Clip.Width, req.Clip.Height)
	for _, poly := range clipped {
		pts := make([]string, 0, len(poly))
		for _, p := range poly {
			pts = append(pts, formatFloat(p[0])+","+formatFloat(p[1]))
		}
		fmt.Fprintf(w, "<polygon points=%q fill=\"none\" stroke=\"black\" stroke-width=\"0.1\"/>\n", strings.Join(pts, " "))
	}
	writeSVGEnd(w)
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("could not write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("could not close %s: %w", name, err)
	}
	c.logger.Debugf("%d of %d polygons kept after clipping", len(clipped), len(req.Polygons))

	return model.TaskResult{Filenames: []string{name}}, nil
}

// ClipPolygon clips a polygon against a rectangle (Sutherland-Hodgman).
// The result is empty when the polygon is outside.
func ClipPolygon(poly []Point, r Rect) []Point {
	type edge struct {
		inside    func(p Point) bool
		intersect func(a, b Point) Point
	}

	minX, minY, maxX, maxY := r.X, r.Y, r.X+r.Width, r.Y+r.Height
	atX := func(a, b Point, x float64) Point {
		t := (x - a[0]) / (b[0] - a[0])
		return Point{x, a[1] + t*(b[1]-a[1])}
	}
	atY := func(a, b Point, y float64) Point {
		t := (y - a[1]) / (b[1] - a[1])
		return Point{a[0] + t*(b[0]-a[0]), y}
	}
	edges := []edge{
		{func(p Point) bool { return p[0] >= minX }, func(a, b Point) Point { return atX(a, b, minX) }},
		{func(p Point) bool { return p[0] <= maxX }, func(a, b Point) Point { return atX(a, b, maxX) }},
		{func(p Point) bool { return p[1] >= minY }, func(a, b Point) Point { return atY(a, b, minY) }},
		{func(p Point) bool { return p[1] <= maxY }, func(a, b Point) Point { return atY(a, b, maxY) }},
	}

	out := poly
	for _, e := range edges {
		if len(out) == 0 {
			break
		}

		in := out
		out = make([]Point, 0, len(in)+1)
		prev := in[len(in)-1]
		for _, cur := range in {
			switch {
			case e.inside(cur) && !e.inside(prev):
				out = append(out, e.intersect(prev, cur), cur)
			case e.inside(cur):
				out = append(out, cur)
			case e.inside(prev):
				out = append(out, e.intersect(prev, cur))
			}
			prev = cur
		}
	}

	return out
}

func writeSVGStart(w io.Writer, x, y, width, height float64) {
	fmt.Fprintf(w, "<svg xmlns=\"http://www.w3.org/2000/svg\" width=\"%smm\" height=\"%smm\" viewBox=\"%s %s %s %s\">\n",
		formatFloat(width), formatFloat(height), formatFloat(x), formatFloat(y), formatFloat(width), formatFloat(height))
}

func writeSVGEnd(w io.Writer) {
	fmt.Fprint(w, "</svg>\n")
}
