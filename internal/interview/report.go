package interview

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/logging"
	"github.com/ent0n29/interviewer/internal/observability"
	"github.com/ent0n29/interviewer/internal/session"
)

const failedVerdict = "Analysis Failed"

// Score is a 1-10 rating. It also decodes legacy string forms such as "7/10".
type Score int

func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if data[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		v, err := parseScoreString(raw)
		if err != nil {
			return err
		}
		*s = v
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode score: %w", err)
	}
	*s = clampScore(int(math.Round(f)))
	return nil
}

func parseScoreString(raw string) (Score, error) {
	head, _, _ := strings.Cut(strings.TrimSpace(raw), "/")
	head = strings.TrimSpace(head)
	if head == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(head, 64)
	if err != nil {
		return 0, fmt.Errorf("decode score %q: %w", raw, err)
	}
	return clampScore(int(math.Round(f))), nil
}

func clampScore(v int) Score {
	switch {
	case v < 0:
		return 0
	case v > 10:
		return 10
	default:
		return Score(v)
	}
}

type Summary struct {
	Strengths      []string `json:"strengths"`
	Weaknesses     []string `json:"weaknesses"`
	FinalVerdict   string   `json:"final_verdict"`
	SoftSkillScore Score    `json:"soft_skill_score"`
	HardSkillScore Score    `json:"hard_skill_score"`
}

type QuestionAnalysis struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Feedback string `json:"feedback"`
	Score    Score  `json:"score"`
}

// Report is the structured end-of-session evaluation.
type Report struct {
	OverallSummary   Summary            `json:"overall_summary"`
	QuestionAnalysis []QuestionAnalysis `json:"question_analysis"`
	// Degraded marks the placeholder produced when synthesis failed.
	Degraded bool `json:"degraded,omitempty"`
}

// OverallScore is the headline score used for history and analytics.
func (r Report) OverallScore() int {
	return int(r.OverallSummary.SoftSkillScore)
}

// PlaceholderReport is returned whenever synthesis cannot produce a usable report.
func PlaceholderReport() Report {
	return Report{
		OverallSummary: Summary{
			Strengths:    []string{"N/A"},
			Weaknesses:   []string{"N/A"},
			FinalVerdict: failedVerdict,
		},
		QuestionAnalysis: []QuestionAnalysis{},
		Degraded:         true,
	}
}

// ReportSchema constrains structured generation of a Report.
func ReportSchema() *genai.Schema {
	one, ten := float64(1), float64(10)
	score := &genai.Schema{Type: genai.TypeInteger, Minimum: &one, Maximum: &ten}
	list := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"overall_summary": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"strengths":        list,
					"weaknesses":       list,
					"final_verdict":    {Type: genai.TypeString, Enum: []string{"HIRE", "NO HIRE"}},
					"soft_skill_score": score,
					"hard_skill_score": score,
				},
				Required: []string{"strengths", "weaknesses", "final_verdict", "soft_skill_score", "hard_skill_score"},
			},
			"question_analysis": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"question": {Type: genai.TypeString},
						"answer":   {Type: genai.TypeString},
						"feedback": {Type: genai.TypeString},
						"score":    score,
					},
					Required: []string{"question", "answer", "feedback", "score"},
				},
			},
		},
		Required:         []string{"overall_summary", "question_analysis"},
		PropertyOrdering: []string{"overall_summary", "question_analysis"},
	}
}

var errMissingSummary = errors.New("report has no overall_summary")

// Reporter synthesizes the end-of-session report.
type Reporter struct {
	client      llm.Client
	temperature float32
	budget      int
	metrics     *observability.Metrics
	logger      *log.Logger
}

func NewReporter(client llm.Client, temperature float32, budgets PromptBudgets, metrics *observability.Metrics, logger *log.Logger) *Reporter {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reporter{
		client:      client,
		temperature: temperature,
		budget:      budgets.normalized().ReportJobDescription,
		metrics:     metrics,
		logger:      logger,
	}
}

// Synthesize never fails; any problem yields PlaceholderReport.
func (r *Reporter) Synthesize(ctx context.Context, s session.Session) Report {
	transcript := renderTranscript(s.VisibleTranscript())
	temp := r.temperature

	started := time.Now()
	raw, err := r.client.Generate(ctx, llm.Request{
		Purpose:     llm.PurposeReport,
		Messages:    []llm.Message{{Role: llm.RoleUser, Text: reportPrompt(s.JobDescription, transcript, r.budget)}},
		Temperature: &temp,
		JSON:        true,
		Schema:      ReportSchema(),
	})
	r.metrics.ObserveStage(observability.StageReport, time.Since(started))
	if err != nil {
		r.metrics.ObserveGenerationError(llm.PurposeReport, errorCode(err))
		r.metrics.ObserveFallback(observability.StageReport, "generation_error")
		r.logger.Error("report generation failed", "session_id", s.ID, "err", err)
		return PlaceholderReport()
	}

	report, err := DecodeReport(raw)
	if err != nil {
		r.metrics.ObserveFallback(observability.StageReport, "decode_error")
		r.logger.Error("report decode failed", "session_id", s.ID, "err", err)
		return PlaceholderReport()
	}
	return report
}

// DecodeReport parses model output, tolerating a fenced json block.
func DecodeReport(raw string) (Report, error) {
	var wire struct {
		OverallSummary   *Summary           `json:"overall_summary"`
		QuestionAnalysis []QuestionAnalysis `json:"question_analysis"`
	}
	if err := json.Unmarshal([]byte(stripFence(raw)), &wire); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if wire.OverallSummary == nil {
		return Report{}, errMissingSummary
	}
	report := Report{OverallSummary: *wire.OverallSummary, QuestionAnalysis: wire.QuestionAnalysis}
	if report.QuestionAnalysis == nil {
		report.QuestionAnalysis = []QuestionAnalysis{}
	}
	return report, nil
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
