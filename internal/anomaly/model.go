package anomaly

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// treeNode is one node of an exported isolation tree. Leaves carry Size;
// internal nodes carry a split feature index and threshold plus children.
type treeNode struct {
	Feature   *int      `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      *treeNode `json:"left"`
	Right     *treeNode `json:"right"`
	Size      int       `json:"size"`
}

type forestArtifact struct {
	FeatureNames []string    `json:"feature_names"`
	Trees        []*treeNode `json:"trees"`
	MaxSamples   int         `json:"max_samples"`
	Offset       float64     `json:"offset"`
}

type scalerArtifact struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Model scores feature vectors against a trained isolation forest and its
// standardization parameters, both loaded from JSON artifacts. A Model is
// immutable after load and safe for concurrent use.
type Model struct {
	featureNames []string
	trees        []*treeNode
	maxSamples   int
	offset       float64
	mean         []float64
	scale        []float64
}

// LoadModel reads the forest and scaler artifacts from disk. Any read or
// shape problem fails the whole load; callers treat a nil model as the
// not-loaded state rather than an error.
func LoadModel(modelPath, scalerPath string) (*Model, error) {
	forestRaw, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var forest forestArtifact
	if err := json.Unmarshal(forestRaw, &forest); err != nil {
		return nil, fmt.Errorf("parsing model artifact: %w", err)
	}
	if len(forest.Trees) == 0 {
		return nil, fmt.Errorf("model artifact %s holds no trees", modelPath)
	}
	if len(forest.FeatureNames) == 0 {
		return nil, fmt.Errorf("model artifact %s names no features", modelPath)
	}

	scalerRaw, err := os.ReadFile(scalerPath)
	if err != nil {
		return nil, fmt.Errorf("reading scaler artifact: %w", err)
	}
	var scaler scalerArtifact
	if err := json.Unmarshal(scalerRaw, &scaler); err != nil {
		return nil, fmt.Errorf("parsing scaler artifact: %w", err)
	}
	if len(scaler.Mean) != len(forest.FeatureNames) || len(scaler.Scale) != len(forest.FeatureNames) {
		return nil, fmt.Errorf("scaler shape %d/%d does not match %d features",
			len(scaler.Mean), len(scaler.Scale), len(forest.FeatureNames))
	}
	for i, s := range scaler.Scale {
		if s == 0 {
			return nil, fmt.Errorf("scaler has zero scale at feature %d", i)
		}
	}

	return &Model{
		featureNames: forest.FeatureNames,
		trees:        forest.Trees,
		maxSamples:   forest.MaxSamples,
		offset:       forest.Offset,
		mean:         scaler.Mean,
		scale:        scaler.Scale,
	}, nil
}

// FeatureNames returns the feature order the model was trained with.
func (m *Model) FeatureNames() []string {
	return m.featureNames
}

// Transform standardizes a raw feature vector with the stored scaler.
func (m *Model) Transform(vector []float64) ([]float64, error) {
	if len(vector) != len(m.mean) {
		return nil, fmt.Errorf("vector length %d, model expects %d", len(vector), len(m.mean))
	}
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = (v - m.mean[i]) / m.scale[i]
	}
	return out, nil
}

// Score returns the decision value for a standardized vector. Negative
// means anomalous; the more negative, the more isolated the sample.
func (m *Model) Score(scaled []float64) float64 {
	var total float64
	for _, tree := range m.trees {
		total += pathLength(tree, scaled, 0)
	}
	avgPath := total / float64(len(m.trees))

	norm := averagePathLength(m.maxSamples)
	sample := -math.Pow(2, -avgPath/norm)
	return sample - m.offset
}

// IsAnomaly applies the decision threshold: any negative score flags the
// sample as an outlier.
func (m *Model) IsAnomaly(score float64) bool {
	return score < 0
}

func pathLength(node *treeNode, sample []float64, depth float64) float64 {
	if node.Feature == nil || node.Left == nil || node.Right == nil {
		return depth + averagePathLength(node.Size)
	}
	if sample[*node.Feature] <= node.Threshold {
		return pathLength(node.Left, sample, depth+1)
	}
	return pathLength(node.Right, sample, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a binary search tree of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	fn := float64(n)
	harmonic := math.Log(fn-1) + 0.5772156649
	return 2*harmonic - 2*(fn-1)/fn
}
