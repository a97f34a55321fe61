package manifest

import (
	"archive/zip"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Load errors.
var (
	ErrNotFound           = errors.New("manifest not found in archive")
	ErrInvalid            = errors.New("manifest does not match schema")
	ErrUnsupportedVersion = errors.New("unsupported manifest version")
)

const schemaURL = "manifest.schema.json"

//go:embed schema.json
var schemaJSON []byte

//nolint:gochecknoglobals // Compiled once on first use.
var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Validate checks raw manifest JSON against the manifest schema.
func Validate(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err = json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err = s.Validate(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// checkVersion accepts versions with the current major version.
func checkVersion(v string) error {
	got, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrUnsupportedVersion, v, err)
	}
	want := semver.MustParse(CurrentVersion)
	if got.Major() != want.Major() {
		return fmt.Errorf("%w %s (this build reads %d.x)", ErrUnsupportedVersion, got, want.Major())
	}
	return nil
}

// Parse validates and decodes manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	if err := Validate(data); err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := checkVersion(m.Version); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a manifest from a .json file or from the root of an output
// archive produced by a previous run.
func Load(p string) (*Manifest, error) {
	if strings.EqualFold(path.Ext(p), ".zip") {
		return loadFromZip(p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data)
}

func loadFromZip(p string) (*Manifest, error) {
	r, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", p, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != FileName {
			continue
		}
		rc, openErr := f.Open()
		if openErr != nil {
			return nil, fmt.Errorf("opening %s: %w", FileName, openErr)
		}
		data, readErr := io.ReadAll(rc)
		_ = rc.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading %s: %w", FileName, readErr)
		}
		return Parse(data)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
}
