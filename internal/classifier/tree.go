// Package classifier loads a trained decision tree that predicts the next
// difficulty level from the eight-feature vector.
package classifier

import (
	"encoding/json"
	"fmt"
	"os"

	"study-session-engine/internal/domain"
)

// Node is one tree node. Leaf nodes carry a level; split nodes send the
// vector left when vector[Feature] <= Threshold.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Leaf      *int    `json:"leaf,omitempty"`
}

// Model is the serialized form: nodes indexed by position, root at 0.
type Model struct {
	Features []string `json:"features"`
	Nodes    []Node   `json:"nodes"`
}

// Tree implements app.Classifier.
type Tree struct {
	nodes []Node
}

// Load reads and validates a model file.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	return New(m)
}

// New validates m and returns a ready tree.
func New(m Model) (*Tree, error) {
	if len(m.Nodes) == 0 {
		return nil, fmt.Errorf("model has no nodes")
	}
	if len(m.Features) > 0 {
		if len(m.Features) != len(domain.FeatureNames) {
			return nil, fmt.Errorf("model expects %d features, have %d", len(m.Features), len(domain.FeatureNames))
		}
		for i, name := range m.Features {
			if name != domain.FeatureNames[i] {
				return nil, fmt.Errorf("feature %d is %q, want %q", i, name, domain.FeatureNames[i])
			}
		}
	}
	for i, n := range m.Nodes {
		if n.Leaf != nil {
			continue
		}
		if n.Feature < 0 || n.Feature >= len(domain.FeatureNames) {
			return nil, fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		// children must point forward so evaluation always terminates
		if n.Left <= i || n.Right <= i || n.Left >= len(m.Nodes) || n.Right >= len(m.Nodes) {
			return nil, fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return &Tree{nodes: m.Nodes}, nil
}

// Predict walks the tree. The raw leaf value is returned unclamped.
func (t *Tree) Predict(features []float64) (int, error) {
	if len(features) != len(domain.FeatureNames) {
		return 0, fmt.Errorf("%w: got %d features, want %d", domain.ErrValidation, len(features), len(domain.FeatureNames))
	}
	i := 0
	for {
		n := t.nodes[i]
		if n.Leaf != nil {
			return *n.Leaf, nil
		}
		if features[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}
