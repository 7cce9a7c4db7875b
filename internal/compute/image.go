package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder.
	_ "image/jpeg" // Register JPEG decoder.
	"image/png"

	"github.com/nfnt/resize"

	"github.com/slok/taskd/internal/log"
	"github.com/slok/taskd/internal/model"
	"github.com/slok/taskd/internal/worker"
)

// ImageMode is how the pixels of a processed image are converted.
type ImageMode string

const (
	ImageModeGreyscale ImageMode = "greyscale"
	ImageModeBW        ImageMode = "bw"
)

const (
	defaultBWThreshold = 128
	maxImageSide       = 10000
)

type imageRequest struct {
	UploadName string    `json:"uploadName"`
	Mode       ImageMode `json:"mode"`
	// Width and Height in pixels, zero keeps the aspect ratio, both zero keeps the size.
	Width     int  `json:"width"`
	Height    int  `json:"height"`
	Threshold int  `json:"threshold"`
	Invert    bool `json:"invert"`
}

func (r *imageRequest) defaults() error {
	if r.Mode == "" {
		r.Mode = ImageModeGreyscale
	}
	if r.Mode != ImageModeGreyscale && r.Mode != ImageModeBW {
		return fmt.Errorf("unknown image mode %q: %w", r.Mode, model.ErrNotValid)
	}

	if r.Width < 0 || r.Height < 0 || r.Width > maxImageSide || r.Height > maxImageSide {
		return fmt.Errorf("image size must be in [0, %d]: %w", maxImageSide, model.ErrNotValid)
	}

	if r.Threshold <= 0 || r.Threshold > 255 {
		r.Threshold = defaultBWThreshold
	}

	return nil
}

// imageProcessor resizes an uploaded image and converts it for engraving.
type imageProcessor struct {
	files  files
	logger log.Logger
}

func (p imageProcessor) Run(ctx context.Context, payload json.RawMessage, report worker.Reporter) (any, error) {
	var req imageRequest
	if err := decodePayload(payload, &req); err != nil {
		return nil, err
	}
	if err := req.defaults(); err != nil {
		return nil, err
	}

	rep := newStepReporter(report)
	src, err := p.files.open(req.UploadName)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	img, format, err := image.Decode(src)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	rep.step(0, 3, 1)

	if req.Width > 0 || req.Height > 0 {
		img = resize.Resize(uint(req.Width), uint(req.Height), img, resize.Lanczos3)
	}
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	rep.step(1, 3, 1)

	out := convertImage(img, req.Mode, uint8(req.Threshold), req.Invert)
	rep.step(2, 3, 0.5)

	name := p.files.newName("image", "png")
	dst, err := p.files.create(name)
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	if err := png.Encode(dst, out); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("could not close image: %w", err)
	}

	b := out.Bounds()
	p.logger.Debugf("%s image %s processed into %s (%dx%d)", format, req.UploadName, name, b.Dx(), b.Dy())

	return model.TaskResult{Filename: name, Width: float64(b.Dx()), Height: float64(b.Dy())}, nil
}

func convertImage(img image.Image, mode ImageMode, threshold uint8, invert bool) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			_, _, _, a := c.RGBA()
			v := color.GrayModel.Convert(c).(color.Gray).Y
			// Transparent pixels are blank material.
			if a == 0 {
				v = 255
			}
			if mode == ImageModeBW {
				if v >= threshold {
					v = 255
				} else {
					v = 0
				}
			}
			if invert {
				v = 255 - v
			}
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: v})
		}
	}

	return out
}
