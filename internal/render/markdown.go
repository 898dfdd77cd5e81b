package render

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/ent0n29/interviewer/internal/interview"
	"github.com/ent0n29/interviewer/internal/session"
)

// Renderer turns a finished interview into a document artifact.
type Renderer interface {
	Render(ctx context.Context, sessionID string, transcript []session.Utterance, report interview.Report) (artifact string, err error)
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// MarkdownRenderer writes feedback_report_<id>.md files into Dir.
type MarkdownRenderer struct {
	Dir string
}

func NewMarkdownRenderer(dir string) *MarkdownRenderer {
	return &MarkdownRenderer{Dir: dir}
}

func (r *MarkdownRenderer) Render(ctx context.Context, sessionID string, transcript []session.Utterance, report interview.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !safeID.MatchString(sessionID) {
		return "", fmt.Errorf("render report: unsafe session id %q", sessionID)
	}
	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, reportView{
		SessionID:  sessionID,
		Report:     report,
		Transcript: transcript,
	}); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}

	path := filepath.Join(r.Dir, "feedback_report_"+sessionID+".md")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

type reportView struct {
	SessionID  string
	Report     interview.Report
	Transcript []session.Utterance
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"speaker": func(s session.Speaker) string {
		if s == session.SpeakerInterviewer {
			return "Interviewer (Alex)"
		}
		return "Candidate"
	},
	"inline": func(s string) string { return strings.Join(strings.Fields(s), " ") },
	"inc":    func(i int) int { return i + 1 },
}).Parse(`# Interview Performance Report

Session: ` + "`{{.SessionID}}`" + `

## Overall Summary

**Verdict:** {{.Report.OverallSummary.FinalVerdict}}
{{- with .Report.OverallSummary}}{{if or .SoftSkillScore .HardSkillScore}}

| Soft skills | Hard skills |
|---|---|
| {{.SoftSkillScore}}/10 | {{.HardSkillScore}}/10 |
{{- end}}{{end}}

### Strengths
{{range .Report.OverallSummary.Strengths}}
- {{inline .}}
{{- end}}

### Weaknesses
{{range .Report.OverallSummary.Weaknesses}}
- {{inline .}}
{{- end}}
{{- if .Report.QuestionAnalysis}}

## Question Analysis
{{range $i, $q := .Report.QuestionAnalysis}}
### Q{{inc $i}}. {{inline $q.Question}}

- **Answer:** {{inline $q.Answer}}
- **Feedback:** {{inline $q.Feedback}}
- **Score:** {{$q.Score}}/10
{{end}}
{{- end}}

## Transcript
{{range .Transcript}}
**{{speaker .Speaker}}:** {{inline .Text}}
{{end}}`))
