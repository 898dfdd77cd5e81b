package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/interviewer/internal/app"
	"github.com/ent0n29/interviewer/internal/config"
	"github.com/ent0n29/interviewer/internal/interview"
	"github.com/ent0n29/interviewer/internal/llm"
	"github.com/ent0n29/interviewer/internal/session"
)

// rehearsalScript drives an offline interview from canned answers.
type rehearsalScript struct {
	JobDescription string   `yaml:"job_description"`
	Resume         string   `yaml:"resume"`
	Answers        []string `yaml:"answers"`
}

func loadScript(path string) (rehearsalScript, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rehearsalScript{}, fmt.Errorf("read script: %w", err)
	}
	var s rehearsalScript
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return rehearsalScript{}, fmt.Errorf("parse script %s: %w", path, err)
	}
	if len(s.Answers) == 0 {
		return rehearsalScript{}, errors.New("script has no answers")
	}
	return s, nil
}

type rehearsalStyles struct {
	speaker lipgloss.Style
	answer  lipgloss.Style
	heading lipgloss.Style
	verdict lipgloss.Style
	warning lipgloss.Style
	faint   lipgloss.Style
}

func newRehearsalStyles(out io.Writer) rehearsalStyles {
	if f, ok := out.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		plain := lipgloss.NewStyle()
		return rehearsalStyles{speaker: plain, answer: plain, heading: plain, verdict: plain, warning: plain, faint: plain}
	}
	r := lipgloss.NewRenderer(out)
	return rehearsalStyles{
		speaker: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		answer:  r.NewStyle().Foreground(lipgloss.Color("250")),
		heading: r.NewStyle().Bold(true).Underline(true),
		verdict: r.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warning: r.NewStyle().Foreground(lipgloss.Color("214")),
		faint:   r.NewStyle().Faint(true),
	}
}

func newRehearseCommand(cfg config.Config, logger *log.Logger) *cobra.Command {
	var (
		scriptPath string
		useMock    bool
	)
	cmd := &cobra.Command{
		Use:   "rehearse",
		Short: "Run a scripted interview offline and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := loadScript(scriptPath)
			if err != nil {
				return err
			}
			if useMock {
				cfg.LLMMode = "mock"
			}
			return rehearse(cmd.Context(), cfg, logger, script, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&scriptPath, "script", "", "YAML file with job_description, resume and answers")
	cmd.Flags().BoolVar(&useMock, "mock", false, "use the offline mock model regardless of configuration")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

func rehearse(ctx context.Context, cfg config.Config, logger *log.Logger, script rehearsalScript, out io.Writer) error {
	chat, err := llm.NewClient(ctx, app.LLMConfig(cfg, logger, false))
	if err != nil {
		return fmt.Errorf("chat client init failed: %w", err)
	}
	report, err := llm.NewClient(ctx, app.LLMConfig(cfg, logger, true))
	if err != nil {
		return fmt.Errorf("report client init failed: %w", err)
	}
	store := session.NewInMemoryStore()
	defer store.Close()
	orch := interview.NewOrchestrator(store, chat, report, app.Options(cfg, nil, logger))
	st := newRehearsalStyles(out)

	started, err := orch.Start(ctx, interview.StartRequest{
		OwnerID:        "rehearsal",
		JobDescription: script.JobDescription,
		ResumeText:     script.Resume,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", st.speaker.Render("Alex:"), started.Greeting)

	for _, answer := range script.Answers {
		fmt.Fprintf(out, "%s %s\n", st.speaker.Render("You:"), st.answer.Render(answer))
		fmt.Fprintf(out, "%s ", st.speaker.Render("Alex:"))
		res, err := orch.Turn(ctx, started.SessionID, answer, func(fragment string) error {
			_, err := io.WriteString(out, fragment)
			return err
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, st.faint.Render(fmt.Sprintf("  [turn %d, difficulty %s]", res.TurnCount, res.Difficulty)))
	}

	ended, err := orch.End(ctx, started.SessionID)
	if err != nil {
		return err
	}
	printReport(out, st, ended.Report)
	return nil
}

func printReport(out io.Writer, st rehearsalStyles, r interview.Report) {
	s := r.OverallSummary
	fmt.Fprintln(out)
	fmt.Fprintln(out, st.heading.Render("Feedback report"))
	if r.Degraded {
		fmt.Fprintln(out, st.warning.Render("Report generation failed; showing placeholder."))
	}
	fmt.Fprintf(out, "Verdict: %s\n", st.verdict.Render(s.FinalVerdict))
	fmt.Fprintf(out, "Soft skills: %d/10  Hard skills: %d/10\n", s.SoftSkillScore, s.HardSkillScore)
	fmt.Fprintf(out, "Strengths: %s\n", strings.Join(s.Strengths, "; "))
	fmt.Fprintf(out, "Weaknesses: %s\n", strings.Join(s.Weaknesses, "; "))
	for i, q := range r.QuestionAnalysis {
		fmt.Fprintf(out, "%d. %s (%d/10)\n   %s\n", i+1, q.Question, q.Score, st.faint.Render(q.Feedback))
	}
}
