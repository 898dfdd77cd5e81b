package records

import (
	"math"
	"sort"
)

const historyRole = "Interview Session"

type HistoryPoint struct {
	Date  string `json:"date"`
	Score int    `json:"score"`
	Role  string `json:"role"`
}

type Analytics struct {
	History       []HistoryPoint `json:"history"`
	AverageScore  float64        `json:"average_score"`
	TotalSessions int            `json:"total_sessions"`
}

// Summarize aggregates completed interviews in chronological order. A
// completed interview without a score counts as zero.
func Summarize(recs []Record) Analytics {
	completed := make([]Record, 0, len(recs))
	for _, r := range recs {
		if r.Status == StatusCompleted {
			completed = append(completed, r)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].CreatedAt.Before(completed[j].CreatedAt)
	})

	out := Analytics{History: make([]HistoryPoint, 0, len(completed))}
	total := 0
	for _, r := range completed {
		score := 0
		if r.OverallScore != nil {
			score = *r.OverallScore
		}
		out.History = append(out.History, HistoryPoint{
			Date:  r.CreatedAt.Format("Jan 02"),
			Score: score,
			Role:  historyRole,
		})
		total += score
	}
	out.TotalSessions = len(completed)
	if out.TotalSessions > 0 {
		out.AverageScore = math.Round(float64(total)/float64(out.TotalSessions)*10) / 10
	}
	return out
}
