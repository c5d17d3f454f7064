package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmetrics/internal/chat"
	"github.com/leapstack-labs/leapmetrics/internal/cli/output"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// AskOptions holds options for the ask command.
type AskOptions struct {
	Thread  string
	OnlySQL bool
	Fuzz    bool
	Retries int
}

type askOutput struct {
	ThreadID string          `json:"thread_id"`
	Response *core.Response  `json:"response"`
	Metric   string          `json:"metric,omitempty"`
	Note     string          `json:"note,omitempty"`
	Trace    []pipeline.Step `json:"trace"`
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	opts := &AskOptions{Retries: -1}
	cmd := &cobra.Command{
		Use:   "ask <datasource> <question>",
		Short: "Answer a question from governed metrics",
		Long: `Pick the metric that answers the question, generate SQL against its governed
view, run it and answer in plain language. Each call starts a new thread
unless --thread continues an existing one.`,
		Example: `  leapmetrics ask shop "revenue by region"
  leapmetrics ask shop "and only north?" --thread 3f2a...
  leapmetrics ask shop "top skus" --sql-only`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var c *chat.Chat
			if opts.Thread != "" {
				c, err = cc.Workspace.Chat(cmd.Context(), opts.Thread)
				if err == nil && !strings.EqualFold(c.DataSource(), args[0]) {
					err = fmt.Errorf("thread %s belongs to datasource %s", opts.Thread, c.DataSource())
				}
			} else {
				c, err = cc.Workspace.NewChat(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}

			resp, st, err := c.Prompt(cmd.Context(), strings.Join(args[1:], " "), pipelineOptions(cc, opts))
			if err != nil {
				return err
			}
			return renderAnswer(cc.Renderer, c.ID(), resp, st, opts.OnlySQL)
		},
	}
	cmd.Flags().StringVar(&opts.Thread, "thread", "", "Continue an existing thread")
	cmd.Flags().BoolVar(&opts.OnlySQL, "sql-only", false, "Stop after generating SQL")
	cmd.Flags().BoolVar(&opts.Fuzz, "fuzz", false, "Fabricate plausible rows instead of executing")
	cmd.Flags().IntVar(&opts.Retries, "retries", -1, "SQL repair attempts (default: pipeline.retries)")
	return cmd
}

func pipelineOptions(cc *CommandContext, opts *AskOptions) pipeline.Options {
	retries := opts.Retries
	if retries < 0 {
		retries = cc.Cfg.Pipeline.Retries
	}
	return pipeline.Options{OnlySQL: opts.OnlySQL, Fuzz: opts.Fuzz, Retries: retries}
}

func renderAnswer(r *output.Renderer, threadID string, resp *core.Response, st *pipeline.State, onlySQL bool) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(askOutput{ThreadID: threadID, Response: resp, Metric: st.Plan.Metric, Note: st.Note, Trace: st.Trace})
	case output.ModeMarkdown:
		if !onlySQL {
			r.Println(resp.Text)
			r.Println("")
		}
		if resp.SQL != "" {
			r.Println("```sql")
			r.Println(resp.SQL)
			r.Println("```")
			r.Println("")
		}
		if resp.Result != nil {
			if err := output.RenderTable(r.Writer(), resp.Result, output.ModeMarkdown); err != nil {
				return err
			}
		}
	default:
		styles := r.Styles()
		if onlySQL {
			r.Println(resp.Text)
		} else {
			r.Println(styles.Bold.Render(resp.Text))
			if resp.SQL != "" {
				r.Println(styles.Muted.Render(resp.SQL))
			}
		}
		if resp.Result != nil {
			if err := output.RenderTable(r.Writer(), resp.Result, output.ModeText); err != nil {
				return err
			}
		}
		if resp.Error != "" {
			r.Warning(resp.Error)
		}
	}
	r.Muted(fmt.Sprintf("thread %s, response %s", threadID, resp.ID))
	return nil
}

// NewFeedbackCommand creates the feedback command.
func NewFeedbackCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "feedback <response-id> <good|bad> [reason]",
		Short:     "Rate an answer",
		Long:      `Rate an answer once. Negative feedback is used by "layer refine".`,
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: []string{"good", "bad"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sentiment, err := parseSentiment(args[1])
			if err != nil {
				return err
			}
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			fb, err := cc.Workspace.RecordFeedback(cmd.Context(), args[0], sentiment, strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			if cc.Renderer.EffectiveMode() == output.ModeJSON {
				return cc.Renderer.JSON(fb)
			}
			cc.Renderer.Success(fmt.Sprintf("Recorded %s feedback for %s", fb.Sentiment, fb.DataSource))
			return nil
		},
	}
	return cmd
}

func parseSentiment(s string) (core.Sentiment, error) {
	switch strings.ToLower(s) {
	case "good", "positive", "+", "up":
		return core.SentimentPositive, nil
	case "bad", "negative", "-", "down":
		return core.SentimentNegative, nil
	}
	return "", &core.ValidationError{Path: "sentiment", Problems: []string{fmt.Sprintf("want good or bad, got %q", s)}}
}
