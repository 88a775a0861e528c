package classify

import (
	"math"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/features"
)

// Rules scores feature vectors against the threshold policy table. Rules
// are evaluated in priority order and the first full match wins; the
// remaining labels receive a partial score from the fraction of their
// conditions that held, so near misses are visible in the distribution.
type Rules struct {
	table []rule
}

// rule is one label's condition set. A label matches when every condition
// holds.
type rule struct {
	label Label
	conds []condition
}

type condition func(v features.Vector) bool

// NewRules builds the rule table from the threshold policy. Inactive has
// no rule: it wins by default when nothing else matches.
func NewRules(t config.Thresholds) *Rules {
	return &Rules{table: []rule{
		{Sleeping, []condition{
			func(v features.Vector) bool { return v.Motion < t.SleepMotion },
			func(v features.Vector) bool { return v.AudioLevel < t.SleepLevel },
		}},
		{AtTable, []condition{
			func(v features.Vector) bool { return v.Motion > t.TableMotionLow && v.Motion < t.TableMotionHigh },
			func(v features.Vector) bool { return v.Brightness > t.TableBrightness },
		}},
		{Reading, []condition{
			func(v features.Vector) bool { return v.Motion > t.ReadMotionLow && v.Motion < t.ReadMotionHigh },
			func(v features.Vector) bool { return v.AudioLevel < t.ReadLevel },
		}},
		{OnPhone, []condition{
			func(v features.Vector) bool { return v.AudioLevel > t.PhoneLevel },
			func(v features.Vector) bool { return v.Speech },
			func(v features.Vector) bool { return v.Motion < t.PhoneMotion },
		}},
		{InConversation, []condition{
			func(v features.Vector) bool { return v.AudioLevel > t.TalkLevel },
			func(v features.Vector) bool { return v.Speech },
			func(v features.Vector) bool { return v.Motion > t.TalkMotion },
		}},
		{Busy, []condition{
			func(v features.Vector) bool { return v.Motion > t.BusyMotion },
		}},
	}}
}

// Mode identifies the strategy.
func (r *Rules) Mode() Mode { return ModeRules }

// winnerScore is the pre-normalization confidence of the matched label.
// Every other label lands in [partialBase, partialBase+partialSpan]
// according to how many of its conditions held.
const (
	winnerScore = 0.70
	partialBase = 0.05
	partialSpan = 0.20
)

// Score evaluates the table in priority order. The first label whose
// conditions all hold wins; with no full match Inactive wins. The final
// distribution is normalized to sum to 1, which keeps the winner strictly
// ahead of every partial match.
func (r *Rules) Score(v features.Vector) (map[Label]float64, error) {
	if !finite(v) {
		return nil, errkind.New(errkind.Classification, "rules.score", "feature vector contains non-finite values")
	}

	winner := Inactive
	found := false
	strength := make(map[Label]float64, len(r.table))
	for _, ru := range r.table {
		held := 0
		for _, cond := range ru.conds {
			if cond(v) {
				held++
			}
		}
		strength[ru.label] = float64(held) / float64(len(ru.conds))
		if !found && held == len(ru.conds) {
			winner = ru.label
			found = true
		}
	}

	scores := make(map[Label]float64, len(strength)+1)
	for _, l := range Labels() {
		if l == winner {
			scores[l] = winnerScore
			continue
		}
		scores[l] = partialBase + partialSpan*strength[l]
	}
	normalize(scores)
	return scores, nil
}

// normalize scales scores in place so they sum to 1.
func normalize(scores map[Label]float64) {
	var total float64
	for _, s := range scores {
		total += s
	}
	if total <= 0 {
		return
	}
	for l, s := range scores {
		scores[l] = s / total
	}
}

// finite reports whether every numeric feature is a real number.
func finite(v features.Vector) bool {
	for _, f := range []float64{
		v.Motion, v.SkinRatio, v.Brightness,
		v.AudioLevel, v.AudioPeak, v.DominantFreqHz,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
