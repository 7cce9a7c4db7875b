// Package gcode reads the metadata header that generated G-code files carry.
//
// The header is a block of comment lines at the top of the file:
//
//	;Header Start
//	;header_type: laser
//	;estimated_time(s): 120.5
//	;Header End
package gcode

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	headerStart = ";Header Start"
	headerEnd   = ";Header End"

	// maxHeaderLines bounds the scan so a file without header is not read entirely.
	maxHeaderLines = 512
)

// ErrNoHeader is returned when the G-code does not have a header block.
var ErrNoHeader = errors.New("gcode header not found")

// Header keys written by the generators.
const (
	KeyHeaderType    = "header_type"
	KeyEstimatedTime = "estimated_time(s)"
	KeyMaxX          = "max_x(mm)"
	KeyMaxY          = "max_y(mm)"
	KeyMaxZ          = "max_z(mm)"
	KeyMinX          = "min_x(mm)"
	KeyMinY          = "min_y(mm)"
	KeyMinZ          = "min_z(mm)"
	KeyThumbnail     = "thumbnail"
)

// ParseHeader reads the header block of a G-code stream.
func ParseHeader(r io.Reader) (map[string]string, error) {
	scanner := bufio.NewScanner(r)
	// Thumbnails are inlined as base64 so lines can be long.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	header := map[string]string{}
	started := false
	for i := 0; scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case !started && line == headerStart:
			started = true
		case !started:
			if i >= maxHeaderLines {
				return nil, ErrNoHeader
			}
		case line == headerEnd:
			return header, nil
		case strings.HasPrefix(line, ";"):
			key, value, ok := strings.Cut(strings.TrimPrefix(line, ";"), ":")
			if !ok {
				continue
			}
			header[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("could not read gcode: %w", err)
	}

	if !started {
		return nil, ErrNoHeader
	}
	return nil, fmt.Errorf("unterminated header block: %w", ErrNoHeader)
}

// ParseHeaderFile reads the header block of a G-code file.
func ParseHeaderFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open gcode file: %w", err)
	}
	defer f.Close()

	return ParseHeader(f)
}

// WriteHeader writes a header block with the keys in order.
func WriteHeader(w io.Writer, keys []string, values map[string]string) error {
	var b strings.Builder
	b.WriteString(headerStart + "\n")
	for _, k := range keys {
		v, ok := values[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, ";%s: %s\n", k, v)
	}
	b.WriteString(headerEnd + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}
