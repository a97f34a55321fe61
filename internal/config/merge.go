package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Top-level YAML config key names used for merging.
const (
	keyTiler     = "tiler"
	keyBatch     = "batch"
	keyInput     = "input"
	keyWorkspace = "workspace"
	keyOutput    = "output"
	keyLogging   = "logging"
	keyHistory   = "history"
	keyPublish   = "publish"
	keyNotify    = "notify"
)

// knownTopLevelKeys lists the YAML keys that correspond to exported Config fields.
// Keys not in this list are silently ignored during merge.
//
//nolint:gochecknoglobals // Compile-time constant lookup table.
var knownTopLevelKeys = map[string]bool{
	keyTiler:     true,
	keyBatch:     true,
	keyInput:     true,
	keyWorkspace: true,
	keyOutput:    true,
	keyLogging:   true,
	keyHistory:   true,
	keyPublish:   true,
	keyNotify:    true,
}

// MergeYAMLFile loads a YAML file (the --config overlay) and decodes each of
// its known top-level sections on top of the target. Fields absent from the
// overlay keep their current values; lists present in the overlay replace the
// target's lists.
func MergeYAMLFile(target *Config, overlayPath string) error {
	if target == nil {
		return errors.New("nil target *Config in MergeYAMLFile")
	}

	data, err := os.ReadFile(overlayPath)
	if err != nil {
		return fmt.Errorf("reading overlay file %s: %w", overlayPath, err)
	}

	var overlay map[string]yaml.Node
	if err = yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing overlay YAML from %s: %w", overlayPath, err)
	}

	// Empty or comment-only file: nothing to merge.
	if len(overlay) == 0 {
		return nil
	}

	for key, node := range overlay {
		if !knownTopLevelKeys[key] {
			continue
		}
		if err = decodeSection(target, key, &node); err != nil {
			return fmt.Errorf("applying overlay section %q: %w", key, err)
		}
	}

	return nil
}

// decodeSection decodes node onto the field of target named by key.
func decodeSection(target *Config, key string, node *yaml.Node) error {
	switch key {
	case keyTiler:
		return node.Decode(&target.Tiler)
	case keyBatch:
		return node.Decode(&target.Batch)
	case keyInput:
		return node.Decode(&target.Input)
	case keyWorkspace:
		return node.Decode(&target.Workspace)
	case keyOutput:
		return node.Decode(&target.Output)
	case keyLogging:
		return node.Decode(&target.Logging)
	case keyHistory:
		return node.Decode(&target.History)
	case keyPublish:
		return node.Decode(&target.Publish)
	case keyNotify:
		return node.Decode(&target.Notify)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
}
