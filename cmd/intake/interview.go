package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/intake/internal/db"
	"github.com/zulandar/intake/internal/interview"
	"golang.org/x/term"
)

type interviewFlags struct {
	area         string
	category     string
	symptoms     string
	form         map[string]string
	requester    string
	continueFrom string
	current      int
	target       int
	askMore      bool
	thinkHarder  bool
}

func newInterviewCmd() *cobra.Command {
	var (
		configPath string
		f          interviewFlags
	)

	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Run an interactive symptom interview",
		Long: `Asks the reasoning service's questions on stdin until the interview is
ready for analysis, then prints the analysis as JSON. --ask-more and
--think-harder run the escalations after the first analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterview(cmd, configPath, f)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "intake.yaml", "path to Intake config file")
	cmd.Flags().StringVar(&f.area, "area", "", "body area being assessed")
	cmd.Flags().StringVar(&f.category, "category", "", "symptom category")
	cmd.Flags().StringVar(&f.symptoms, "symptoms", "", "free-text symptom description")
	cmd.Flags().StringToStringVar(&f.form, "form", nil, "intake form answers (key=value,...)")
	cmd.Flags().StringVar(&f.requester, "requester", "", "requester id (defaults to the config owner)")
	cmd.Flags().StringVar(&f.continueFrom, "continue", "", "resume a prior session by id")
	cmd.Flags().IntVar(&f.current, "current-confidence", 0, "confidence to resume from with --continue")
	cmd.Flags().IntVar(&f.target, "target", 0, "target confidence with --continue or --ask-more")
	cmd.Flags().BoolVar(&f.askMore, "ask-more", false, "run an Ask Me More round after the analysis")
	cmd.Flags().BoolVar(&f.thinkHarder, "think-harder", false, "request the ultra analysis after the analysis")
	return cmd
}

func runInterview(cmd *cobra.Command, configPath string, f interviewFlags) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	m, err := newManager(cfg, gormDB)
	if err != nil {
		return err
	}
	defer m.Wait()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := interview.StartRequest{
		Subject: interview.Subject{
			BodyArea:    f.area,
			Category:    f.category,
			Symptoms:    f.symptoms,
			FormAnswers: f.form,
		},
		RequesterID:      f.requester,
		ContinueFrom:     f.continueFrom,
		TargetConfidence: f.target,
	}
	if f.current > 0 {
		req.CurrentConfidence = &f.current
	}

	p := &prompter{
		out:         cmd.OutOrStdout(),
		in:          bufio.NewScanner(cmd.InOrStdin()),
		interactive: isTerminal(cmd.InOrStdin()),
	}

	s, err := m.Start(ctx, req)
	if err != nil {
		return explain(p.out, err)
	}
	fmt.Fprintf(p.out, "Session %s\n", s.ID)

	if s, err = p.converse(ctx, m, s); err != nil {
		return err
	}
	if f.askMore {
		if s, err = m.AskMore(ctx, s.ID, f.target); err != nil {
			return explain(p.out, err)
		}
		fmt.Fprintf(p.out, "Ask Me More: target confidence %d%%\n", s.TargetConfidence)
		if s, err = p.converse(ctx, m, s); err != nil {
			return err
		}
	}
	if f.thinkHarder {
		fmt.Fprintln(p.out, "Think Harder: requesting deeper analysis...")
		ultra, err := m.ThinkHarder(ctx, s.ID)
		if err != nil {
			// The earlier analysis is kept; report and print it.
			explain(p.out, err)
		} else {
			s = ultra
		}
	}
	return printAnalysis(p.out, s)
}

// prompter reads answers for the interview loop.
type prompter struct {
	out         io.Writer
	in          *bufio.Scanner
	interactive bool
}

// converse asks questions until the session is ready, then completes it.
func (p *prompter) converse(ctx context.Context, m *interview.Manager, s interview.Session) (interview.Session, error) {
	for accepting(s) {
		fmt.Fprintf(p.out, "\nQ%d: %s\n", s.TurnNumber, s.LastQuestion())
		answer, ok := p.read()
		if !ok {
			return s, fmt.Errorf("interview: input closed before the interview finished (session %s)", s.ID)
		}
		if strings.TrimSpace(answer) == "" {
			fmt.Fprintln(p.out, "Please enter an answer.")
			continue
		}
		next, err := m.SubmitAnswer(ctx, s.ID, answer)
		if err != nil {
			explain(p.out, err)
			if interview.KindOf(err) != interview.KindRejected && !accepting(next) {
				return next, err
			}
		}
		if next.ID != "" {
			s = next
		}
	}
	if n := len(s.Transcript); n > 0 && s.Transcript[n-1].Role == interview.RoleNotice {
		fmt.Fprintf(p.out, "\n%s\n", s.Transcript[n-1].Content)
	}

	fmt.Fprintln(p.out, "\nAnalyzing...")
	done, err := m.Complete(ctx, s.ID)
	if err != nil {
		return s, explain(p.out, err)
	}
	return done, nil
}

func (p *prompter) read() (string, bool) {
	if p.interactive {
		fmt.Fprint(p.out, "> ")
	}
	if !p.in.Scan() {
		return "", false
	}
	return p.in.Text(), true
}

// accepting reports whether s is waiting on an answer.
func accepting(s interview.Session) bool {
	return s.Phase == interview.PhaseInterviewing ||
		(s.Phase == interview.PhaseErrored && s.PriorPhase == interview.PhaseInterviewing)
}

// explain prints the recovery guidance for err and returns it.
func explain(out io.Writer, err error) error {
	var ie *interview.Error
	if errors.As(err, &ie) {
		fmt.Fprintf(out, "%s\n", interview.RecoveryFor(ie.Kind).Message)
	}
	return err
}

func printAnalysis(out io.Writer, s interview.Session) error {
	conf := "-"
	if s.Confidence != nil {
		conf = fmt.Sprintf("%d%%", *s.Confidence)
	}
	fmt.Fprintf(out, "\nAnalysis (%s, confidence %s):\n", s.Tier, conf)
	data, err := json.MarshalIndent(s.Analysis, "", "  ")
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	fmt.Fprintln(out, string(data))
	if len(s.ConfidenceTrail) > 1 {
		steps := make([]string, len(s.ConfidenceTrail))
		for i, st := range s.ConfidenceTrail {
			steps[i] = fmt.Sprintf("%s %d%%", st.Tier, st.Confidence)
		}
		fmt.Fprintf(out, "Confidence: %s\n", strings.Join(steps, " -> "))
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
