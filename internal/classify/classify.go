// Package classify assigns an activity label to a feature vector.
//
// Two scoring strategies exist: a linear model loaded from a weights file
// and a fixed rule table. The strategy is selected once at construction;
// the model is preferred when its weights file loads, otherwise the rules
// run. A per-call scoring failure falls back to the rules, and if those
// fail too the classifier emits a deterministic low-confidence Inactive
// result. Classify never returns an error: the analysis loop must always
// get a result to record.
package classify

import (
	"math"
	"time"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/fsutil"
	"github.com/vigil-data/activity.report/internal/monitoring"
)

// Mode names the scoring path that produced a result.
type Mode string

const (
	ModeModel    Mode = "model"
	ModeRules    Mode = "rules"
	ModeFallback Mode = "fallback"
)

// Strategy scores a feature vector. Implementations return a score for
// every label, forming a distribution that sums to 1.
type Strategy interface {
	// Score returns a per-label confidence distribution for v.
	Score(v features.Vector) (map[Label]float64, error)

	// Mode identifies the strategy in results and logs.
	Mode() Mode
}

// Result is one classification outcome, ready for persistence.
type Result struct {
	Timestamp time.Time         `json:"timestamp"`
	Activity  Label             `json:"activity"`
	Scores    map[Label]float64 `json:"scores"`
	Features  features.Vector   `json:"features"`
	Mode      Mode              `json:"mode"`
	Unsynced  bool              `json:"unsynced,omitempty"`
}

// Confidence returns the winning label's score.
func (r Result) Confidence() float64 { return r.Scores[r.Activity] }

// Classifier picks a label for each feature vector using the strategy
// chain selected at construction.
type Classifier struct {
	primary Strategy
	rules   Strategy
	logf    func(format string, v ...interface{})
}

// New builds a classifier from the configuration. When a model path is set
// and its weights load cleanly, the model becomes the primary strategy; any
// load problem is logged and the rule table takes over. The rule table is
// always kept around as the per-call fallback.
func New(cfg config.Classifier, fs fsutil.FileSystem) *Classifier {
	c := &Classifier{
		rules: NewRules(cfg.Thresholds),
		logf:  monitoring.Scoped("classify"),
	}
	c.primary = c.rules
	if cfg.ModelPath != "" {
		model, err := LoadModel(fs, cfg.ModelPath)
		if err != nil {
			c.logf("model %s unavailable, scoring with rules: %v", cfg.ModelPath, err)
		} else {
			c.primary = model
			c.logf("scoring with model %s", cfg.ModelPath)
		}
	}
	return c
}

// Mode reports the scoring path selected at construction.
func (c *Classifier) Mode() Mode { return c.primary.Mode() }

// Classify scores v and returns a result stamped with ts. Scoring failures
// degrade through the rules to the fallback result, so the returned result
// is always usable.
func (c *Classifier) Classify(ts time.Time, v features.Vector, unsynced bool) Result {
	scores, err := c.primary.Score(v)
	mode := c.primary.Mode()
	if err != nil && mode != ModeRules {
		c.logf("%s scoring failed, retrying with rules: %v", mode, err)
		scores, err = c.rules.Score(v)
		mode = ModeRules
	}
	if err != nil {
		c.logf("rule scoring failed, emitting fallback result: %v", err)
		return Result{
			Timestamp: ts,
			Activity:  Inactive,
			Scores:    fallbackScores(),
			Features:  v,
			Mode:      ModeFallback,
			Unsynced:  unsynced,
		}
	}
	return Result{
		Timestamp: ts,
		Activity:  argmax(scores),
		Scores:    scores,
		Features:  v,
		Mode:      mode,
		Unsynced:  unsynced,
	}
}

// fallbackScores is the uniform distribution emitted when every scoring
// path fails.
func fallbackScores() map[Label]float64 {
	labels := Labels()
	scores := make(map[Label]float64, len(labels))
	for _, l := range labels {
		scores[l] = 1 / float64(len(labels))
	}
	return scores
}

// argmax returns the highest-scoring label, breaking ties by priority
// order so equal inputs always produce the same answer.
func argmax(scores map[Label]float64) Label {
	best := Inactive
	bestScore := math.Inf(-1)
	for _, l := range Labels() {
		if s := scores[l]; s > bestScore {
			best, bestScore = l, s
		}
	}
	return best
}
