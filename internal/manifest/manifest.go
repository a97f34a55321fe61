// Package manifest describes the manifest.json stored at the root of every
// output archive: one record per image, in input order.
//
// The document carries no timestamps or run identifiers, so the same inputs
// always produce the same bytes.
package manifest

import (
	"bytes"
	"encoding/json"

	"github.com/rshade/slidetiler/internal/slide"
)

// FileName is the manifest's name inside the output archive.
const FileName = "manifest.json"

// CurrentVersion is written into new manifests. Load accepts any manifest
// with the same major version.
const CurrentVersion = "1.0.0"

// Manifest is the run summary stored in the output archive.
type Manifest struct {
	Version string  `json:"version"`
	Tool    Tool    `json:"tool"`
	Batch   Batch   `json:"batch"`
	Summary Summary `json:"summary"`
	Images  []Image `json:"images"`
}

// Tool records how the tiler was invoked.
type Tool struct {
	Command string   `json:"command"`
	Params  []string `json:"params"`
}

// Batch records the batch plan.
type Batch struct {
	Strategy string `json:"strategy"`
	Size     int    `json:"size"`
	Batches  int    `json:"batches"`
}

// Summary counts image outcomes.
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Tiles     int `json:"tiles"`
}

// Image is one image record.
type Image struct {
	Name   string              `json:"name"`
	Source string              `json:"source"`
	Status slide.Status        `json:"status"`
	Tiles  int                 `json:"tiles"`
	Reason slide.FailureReason `json:"reason,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Build creates the manifest for tasks, keeping their order.
func Build(tasks []*slide.ImageTask, tool Tool, batch Batch) *Manifest {
	c := slide.Count(tasks)
	m := &Manifest{
		Version: CurrentVersion,
		Tool:    tool,
		Batch:   batch,
		Summary: Summary{
			Total:     c.Total,
			Succeeded: c.Succeeded,
			Failed:    c.Failed,
			Tiles:     c.Tiles,
		},
		Images: make([]Image, 0, len(tasks)),
	}
	if m.Tool.Params == nil {
		m.Tool.Params = []string{}
	}

	for _, t := range tasks {
		m.Images = append(m.Images, Image{
			Name:   t.Name,
			Source: t.Origin,
			Status: t.Status,
			Tiles:  t.TileCount,
			Reason: t.Reason,
			Error:  t.Error,
		})
	}
	return m
}

// Marshal renders the manifest as indented JSON with a trailing newline.
// HTML characters are not escaped so tool output stays readable.
func (m *Manifest) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FailedNames lists the failed images in manifest order.
func (m *Manifest) FailedNames() []string {
	var names []string
	for _, img := range m.Images {
		if img.Status == slide.StatusFailed {
			names = append(names, img.Name)
		}
	}
	return names
}

// Failures returns the failed image records.
func (m *Manifest) Failures() []Image {
	var out []Image
	for _, img := range m.Images {
		if img.Status == slide.StatusFailed {
			out = append(out, img)
		}
	}
	return out
}
