package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	PurposeGrade   = "grade"
	PurposeRespond = "respond"
	PurposeReport  = "report"
)

// MockClient provides deterministic local replies when no model is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Generate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", &Error{Provider: "mock", Err: ctx.Err()}
	default:
	}
	return buildMockReply(req), nil
}

func (c *MockClient) GenerateStream(ctx context.Context, req Request, onDelta DeltaHandler) (string, error) {
	text := buildMockReply(req)
	var out strings.Builder
	for _, word := range strings.SplitAfter(text, " ") {
		select {
		case <-ctx.Done():
			return out.String(), &Error{Provider: "mock", Err: ctx.Err()}
		default:
		}
		out.WriteString(word)
		if onDelta != nil {
			if err := onDelta(word); err != nil {
				return out.String(), err
			}
		}
	}
	return out.String(), nil
}

func buildMockReply(req Request) string {
	switch req.Purpose {
	case PurposeGrade:
		return mockGrade(lastMessage(req, RoleSystem))
	case PurposeReport:
		return mockReport()
	default:
		return mockInterviewerReply(req)
	}
}

func mockGrade(prompt string) string {
	answer := quotedAnswer(prompt)
	lower := strings.ToLower(answer)
	switch {
	case answer == "(Candidate remained silent)":
		return "Easy|Check in on candidate gently. Ask if they need a hint."
	case strings.Contains(lower, "don't know") || strings.Contains(lower, "dont know"):
		return "Easy|Offer a conceptual hint."
	case strings.Contains(lower, "skip"):
		return "Medium|Comply and move on."
	case len(strings.Fields(answer)) < 6:
		return "Easy|Probe for details."
	default:
		return "Hard|Move to advanced topic."
	}
}

func mockInterviewerReply(req Request) string {
	system := lastMessage(req, RoleSystem)
	resume := promptField(system, "- Resume Highlights:")
	assessment := promptField(system, "- Assessment:")

	topic := "your recent projects"
	if resume != "" {
		topic = firstClause(resume)
	}
	switch {
	case strings.HasPrefix(assessment, "Start"):
		return fmt.Sprintf("Hi, I'm Alex and I'll be interviewing you today. I'd like to start with this line from your resume: %q. Could you walk me through it?", topic)
	case strings.Contains(assessment, "Probe"):
		return fmt.Sprintf("Could you be more specific? Tie it back to %q if you can.", topic)
	case strings.Contains(assessment, "hint"):
		return "No problem. Think about where the bottleneck would show up first. What would you measure?"
	case strings.Contains(assessment, "advanced"):
		return fmt.Sprintf("Great. Thinking about %q, how would that design hold up under ten times the traffic?", topic)
	default:
		return fmt.Sprintf("Thanks. Staying with %q, what trade-offs did you make?", topic)
	}
}

func mockReport() string {
	report := map[string]any{
		"overall_summary": map[string]any{
			"strengths":        []string{"Clear communication"},
			"weaknesses":       []string{"Limited depth under follow-up"},
			"final_verdict":    "HIRE",
			"soft_skill_score": 7,
			"hard_skill_score": 6,
		},
		"question_analysis": []map[string]any{
			{"question": "Walk through your recent project", "answer": "Summary of the candidate answer", "feedback": "Add concrete metrics", "score": 6},
		},
	}
	b, _ := json.Marshal(report)
	return string(b)
}

func lastMessage(req Request, role Role) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == role {
			return req.Messages[i].Text
		}
	}
	return ""
}

func promptField(prompt, prefix string) string {
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(line, prefix)), "...")
		}
	}
	return ""
}

func quotedAnswer(prompt string) string {
	const marker = "latest answer: \""
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	j := strings.Index(rest, "\"\n")
	if j < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:j])
}

func firstClause(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".;\n"); i > 0 {
		s = s[:i]
	}
	if parts := strings.SplitN(s, ",", 2); len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
		s = parts[1]
	}
	return strings.TrimSpace(s)
}
