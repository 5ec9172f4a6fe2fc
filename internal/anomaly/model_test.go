package anomaly

import (
	"os"
	"path/filepath"
	"testing"
)

const testForestJSON = `{
  "feature_names": ["Energy_kWh", "Yield_loss_pct"],
  "max_samples": 10,
  "offset": -0.5,
  "trees": [
    {
      "feature": 0,
      "threshold": 0.0,
      "size": 10,
      "left": {"feature": null, "threshold": 0, "left": null, "right": null, "size": 1},
      "right": {"feature": null, "threshold": 0, "left": null, "right": null, "size": 9}
    }
  ]
}`

const testScalerJSON = `{"mean": [100.0, 5.0], "scale": [10.0, 2.0]}`

func writeArtifacts(t *testing.T, forest, scaler string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.json")
	scalerPath := filepath.Join(dir, "scaler.json")
	if err := os.WriteFile(modelPath, []byte(forest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(scalerPath, []byte(scaler), 0o644); err != nil {
		t.Fatal(err)
	}
	return modelPath, scalerPath
}

func TestLoadModel(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, testForestJSON, testScalerJSON)

	model, err := LoadModel(modelPath, scalerPath)
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if got := model.FeatureNames(); len(got) != 2 || got[0] != "Energy_kWh" {
		t.Errorf("unexpected feature names: %v", got)
	}
}

func TestLoadModelErrors(t *testing.T) {
	cases := []struct {
		name   string
		forest string
		scaler string
	}{
		{"no trees", `{"feature_names":["a"],"max_samples":10,"offset":0,"trees":[]}`, `{"mean":[0],"scale":[1]}`},
		{"no features", `{"feature_names":[],"max_samples":10,"offset":0,"trees":[{"feature":null,"size":1}]}`, `{"mean":[],"scale":[]}`},
		{"scaler shape mismatch", testForestJSON, `{"mean":[0],"scale":[1]}`},
		{"zero scale", testForestJSON, `{"mean":[0,0],"scale":[1,0]}`},
		{"malformed forest", `{`, testScalerJSON},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			modelPath, scalerPath := writeArtifacts(t, tc.forest, tc.scaler)
			if _, err := LoadModel(modelPath, scalerPath); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	_, scalerPath := writeArtifacts(t, testForestJSON, testScalerJSON)
	if _, err := LoadModel(filepath.Join(t.TempDir(), "absent.json"), scalerPath); err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestModelTransform(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, testForestJSON, testScalerJSON)
	model, err := LoadModel(modelPath, scalerPath)
	if err != nil {
		t.Fatal(err)
	}

	scaled, err := model.Transform([]float64{120, 9})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if scaled[0] != 2 || scaled[1] != 2 {
		t.Errorf("Transform = %v, want [2 2]", scaled)
	}

	if _, err := model.Transform([]float64{1}); err == nil {
		t.Error("expected length-mismatch error")
	}
}

func TestModelScoring(t *testing.T) {
	modelPath, scalerPath := writeArtifacts(t, testForestJSON, testScalerJSON)
	model, err := LoadModel(modelPath, scalerPath)
	if err != nil {
		t.Fatal(err)
	}

	// Left branch isolates immediately (leaf of 1); right branch lands in a
	// populated leaf. The isolated sample must score lower.
	isolated := model.Score([]float64{-1, 0})
	grouped := model.Score([]float64{1, 0})

	if isolated >= grouped {
		t.Errorf("isolated score %v should be below grouped score %v", isolated, grouped)
	}
	if !model.IsAnomaly(isolated) {
		t.Errorf("isolated sample score %v should be flagged", isolated)
	}
	if model.IsAnomaly(grouped) {
		t.Errorf("grouped sample score %v should not be flagged", grouped)
	}
}
