package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"gopkg.in/yaml.v3"
)

// DumpsYAML serializes the in-memory state as YAML.
func (l *SemanticLayer) DumpsYAML() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(l.Snapshot()); err != nil {
		return "", fmt.Errorf("failed to encode semantic layer: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode semantic layer: %w", err)
	}
	return buf.String(), nil
}

// DecodeSnapshot reads a layer document in YAML or JSON (JSON is valid YAML).
// A bare list of metrics is accepted as well.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read layer document: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.New("layer document is empty")
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse layer document: %w", err)
	}
	root := &node
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	var snap Snapshot
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&snap.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
	case yaml.MappingNode:
		if err := root.Decode(&snap); err != nil {
			return nil, fmt.Errorf("failed to decode layer document: %w", err)
		}
	default:
		return nil, errors.New("layer document must be a mapping or a list of metrics")
	}
	return &snap, nil
}

// Import merges metrics and examples from a layer document into memory.
// Metrics replace existing ones by name; examples are appended.
func (l *SemanticLayer) Import(r io.Reader) (int, error) {
	snap, err := DecodeSnapshot(r)
	if err != nil {
		return 0, err
	}

	updates := make([]core.Metric, len(snap.Metrics))
	copy(updates, snap.Metrics)

	current := l.Metrics()
	merged := current
	for _, m := range updates {
		m.DataSource = l.dataSource
		replaced := false
		for i := range merged {
			if strings.EqualFold(merged[i].Name, m.Name) {
				merged[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, m)
		}
	}
	if err := Validate(merged); err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.metrics = merged
	l.examples = append(l.examples, snap.Examples...)
	l.updateReasoning = fmt.Sprintf("Imported %d metrics and %d examples.", len(updates), len(snap.Examples))
	l.mu.Unlock()
	return len(updates), nil
}
