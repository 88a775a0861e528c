package db

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/vigil-data/activity.report/internal/classify"
)

// LabelStats aggregates one label's presence inside a reporting window.
type LabelStats struct {
	Label            classify.Label `json:"label"`
	Count            int            `json:"count"`
	DurationMS       int64          `json:"duration_ms"`
	Share            float64        `json:"share"`
	MeanConfidence   float64        `json:"mean_confidence"`
	StdDevConfidence float64        `json:"stddev_confidence"`
}

// Statistics summarizes a window of activity records.
type Statistics struct {
	Start      time.Time    `json:"start"`
	End        time.Time    `json:"end"`
	Total      int          `json:"total"`
	Unsynced   int          `json:"unsynced"`
	DurationMS int64        `json:"duration_ms"`
	Labels     []LabelStats `json:"labels"`
}

// Statistics aggregates the window per label. Share is a label's fraction
// of the total observed duration. Every known label appears even with zero
// counts so consumers always see the same shape; unknown labels from older
// schema versions are appended after the known ones.
func (db *DB) Statistics(start, end time.Time) (*Statistics, error) {
	recs, err := db.Range(start, end, 0)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{Start: start, End: end, Total: len(recs)}
	byLabel := make(map[classify.Label]*LabelStats)
	conf := make(map[classify.Label][]float64)
	for _, l := range classify.Labels() {
		byLabel[l] = &LabelStats{Label: l}
	}

	for _, r := range recs {
		ls, ok := byLabel[r.Activity]
		if !ok {
			ls = &LabelStats{Label: r.Activity}
			byLabel[r.Activity] = ls
		}
		ls.Count++
		ls.DurationMS += r.DurationMS
		conf[r.Activity] = append(conf[r.Activity], r.Confidence)
		stats.DurationMS += r.DurationMS
		if r.Unsynced {
			stats.Unsynced++
		}
	}

	for l, ls := range byLabel {
		if xs := conf[l]; len(xs) > 0 {
			ls.MeanConfidence = stat.Mean(xs, nil)
			if len(xs) > 1 {
				ls.StdDevConfidence = stat.StdDev(xs, nil)
			}
		}
		if stats.DurationMS > 0 {
			ls.Share = float64(ls.DurationMS) / float64(stats.DurationMS)
		}
	}

	for _, l := range classify.Labels() {
		stats.Labels = append(stats.Labels, *byLabel[l])
		delete(byLabel, l)
	}
	extras := make([]LabelStats, 0, len(byLabel))
	for _, ls := range byLabel {
		extras = append(extras, *ls)
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i].Label < extras[j].Label })
	stats.Labels = append(stats.Labels, extras...)

	return stats, nil
}
