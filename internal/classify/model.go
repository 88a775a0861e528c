package classify

import (
	"encoding/json"
	"math"

	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/fsutil"
)

// Model scores feature vectors with a linear layer followed by a softmax.
// Weights live in a JSON file so a newly trained model can be swapped in
// without a rebuild.
type Model struct {
	bias    map[Label]float64
	weights map[Label]map[string]float64
}

const modelVersion = 1

// modelFile is the on-disk weight format. Weights are keyed by label and
// then by feature name as it appears in the feature vector's JSON form.
type modelFile struct {
	Version int                          `json:"version"`
	Bias    map[Label]float64            `json:"bias"`
	Weights map[Label]map[string]float64 `json:"weights"`
}

// LoadModel reads and validates a weights file. Every label must carry a
// weight row and every weighted feature must be a known input, so typos in
// a model file surface at startup instead of skewing scores silently.
func LoadModel(fs fsutil.FileSystem, path string) (*Model, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Classification, "model.load", err)
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, errkind.Wrap(errkind.Classification, "model.load", err)
	}
	if mf.Version != modelVersion {
		return nil, errkind.Newf(errkind.Classification, "model.load",
			"unsupported model version %d, want %d", mf.Version, modelVersion)
	}
	if len(mf.Weights) != len(Labels()) {
		return nil, errkind.Newf(errkind.Classification, "model.load",
			"model weights %d labels, want %d", len(mf.Weights), len(Labels()))
	}
	for label, row := range mf.Weights {
		if !label.Valid() {
			return nil, errkind.Newf(errkind.Classification, "model.load", "unknown label %q", label)
		}
		for name := range row {
			if !knownFeature(name) {
				return nil, errkind.Newf(errkind.Classification, "model.load",
					"label %q weights unknown feature %q", label, name)
			}
		}
	}
	for label := range mf.Bias {
		if !label.Valid() {
			return nil, errkind.Newf(errkind.Classification, "model.load", "unknown bias label %q", label)
		}
	}
	return &Model{bias: mf.Bias, weights: mf.Weights}, nil
}

// Mode identifies the strategy.
func (m *Model) Mode() Mode { return ModeModel }

// Score computes softmax(bias + W*x) over the labels.
func (m *Model) Score(v features.Vector) (map[Label]float64, error) {
	if !finite(v) {
		return nil, errkind.New(errkind.Classification, "model.score", "feature vector contains non-finite values")
	}
	x := featureMap(v)
	z := make(map[Label]float64, len(m.weights))
	for label, row := range m.weights {
		sum := m.bias[label]
		for name, w := range row {
			sum += w * x[name]
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, errkind.Newf(errkind.Classification, "model.score",
				"label %q produced a non-finite logit", label)
		}
		z[label] = sum
	}
	return softmax(z), nil
}

// featureMap flattens the vector into model inputs keyed by JSON field
// name. Speech enters as 0 or 1.
func featureMap(v features.Vector) map[string]float64 {
	speech := 0.0
	if v.Speech {
		speech = 1
	}
	return map[string]float64{
		"motion":           v.Motion,
		"skin_ratio":       v.SkinRatio,
		"brightness":       v.Brightness,
		"audio_level":      v.AudioLevel,
		"audio_peak":       v.AudioPeak,
		"dominant_freq_hz": v.DominantFreqHz,
		"speech":           speech,
	}
}

func knownFeature(name string) bool {
	_, ok := featureMap(features.Vector{})[name]
	return ok
}

// softmax converts logits to a distribution. The max is subtracted first
// so large logits cannot overflow the exponent.
func softmax(z map[Label]float64) map[Label]float64 {
	max := math.Inf(-1)
	for _, v := range z {
		if v > max {
			max = v
		}
	}
	scores := make(map[Label]float64, len(z))
	var total float64
	for l, v := range z {
		e := math.Exp(v - max)
		scores[l] = e
		total += e
	}
	for l, e := range scores {
		scores[l] = e / total
	}
	return scores
}
