package model

import "encoding/json"

// TaskResult holds the result slots of a task, only the ones of its type are set.
type TaskResult struct {
	// generateToolPath and svgClipping.
	Filenames []string `json:"filenames,omitempty"`
	// generateGcode.
	GcodeFile *GcodeFile `json:"gcodeFile,omitempty"`
	// generateViewPath.
	ViewPathFile string `json:"viewPathFile,omitempty"`
	// processImage.
	Filename string  `json:"filename,omitempty"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	// cutModel.
	STLInfo json.RawMessage `json:"stlInfo,omitempty"`
	SVGInfo json.RawMessage `json:"svgInfo,omitempty"`
}

// GcodeFile describes a generated G-code file.
type GcodeFile struct {
	Name          string            `json:"name"`
	Size          int64             `json:"size"`
	LastModified  int64             `json:"lastModified"`
	EstimatedTime float64           `json:"estimatedTime"`
	Thumbnail     string            `json:"thumbnail,omitempty"`
	BoundingBox   *BoundingBox      `json:"boundingBox,omitempty"`
	Header        map[string]string `json:"header,omitempty"`
}

// BoundingBox is an axis aligned box in millimeters.
type BoundingBox struct {
	Min Point3 `json:"min"`
	Max Point3 `json:"max"`
}

// Point3 is a 3D point.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Extend grows the box to contain p.
func (b *BoundingBox) Extend(p Point3) {
	b.Min.X = min(b.Min.X, p.X)
	b.Min.Y = min(b.Min.Y, p.Y)
	b.Min.Z = min(b.Min.Z, p.Z)
	b.Max.X = max(b.Max.X, p.X)
	b.Max.Y = max(b.Max.Y, p.Y)
	b.Max.Z = max(b.Max.Z, p.Z)
}
