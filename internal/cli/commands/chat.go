package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/leapmetrics/internal/chat"
	"github.com/leapstack-labs/leapmetrics/internal/pipeline"
	"github.com/leapstack-labs/leapmetrics/pkg/core"
	"github.com/spf13/cobra"
)

// NewChatCommand creates the interactive chat command.
func NewChatCommand() *cobra.Command {
	opts := &AskOptions{Retries: -1}
	cmd := &cobra.Command{
		Use:   "chat <datasource>",
		Short: "Ask questions interactively",
		Long: `Start a conversation on a datasource. Follow-up questions see the
thread's history. Rate the last answer with /good or /bad <reason>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			var c *chat.Chat
			if opts.Thread != "" {
				c, err = cc.Workspace.Chat(cmd.Context(), opts.Thread)
			} else {
				c, err = cc.Workspace.NewChat(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			s := &chatSession{cc: cc, chat: c, opts: pipelineOptions(cc, opts)}
			return s.run(cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Thread, "thread", "", "Resume an existing thread")
	cmd.Flags().BoolVar(&opts.Fuzz, "fuzz", false, "Fabricate plausible rows instead of executing")
	cmd.Flags().IntVar(&opts.Retries, "retries", -1, "SQL repair attempts (default: pipeline.retries)")
	return cmd
}

// chatSession is one REPL over a chat thread.
type chatSession struct {
	cc   *CommandContext
	chat *chat.Chat
	opts pipeline.Options
	last *core.Response
}

func (s *chatSession) run(cmd *cobra.Command) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.chat.DataSource() + "> ",
		HistoryFile:     filepath.Join(s.cc.Cfg.Home, "chat_history"),
		AutoComplete:    chatCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
		Stdin:           io.NopCloser(cmd.InOrStdin()),
		Stdout:          cmd.OutOrStdout(),
		Stderr:          cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r := s.cc.Renderer
	r.Println(r.Styles().Header1.Render("leapmetrics chat") + " " + r.Styles().Muted.Render("thread "+s.chat.ID()))
	r.Muted("Type /help for commands, /quit to exit")
	r.Println("")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := s.handle(cmd.Context(), line)
		if err != nil {
			r.Error(err.Error())
		}
		if quit {
			return nil
		}
		r.Println("")
	}
}

// handle processes one REPL line.
func (s *chatSession) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	r := s.cc.Renderer
	if !strings.HasPrefix(line, "/") {
		resp, st, err := s.chat.Prompt(ctx, line, s.opts)
		if err != nil {
			return false, err
		}
		s.last = resp
		return false, renderAnswer(r, s.chat.ID(), resp, st, s.opts.OnlySQL)
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(command) {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		printChatHelp(r.Writer())
	case "/good", "/bad":
		if s.last == nil {
			return false, errors.New("nothing to rate yet")
		}
		sentiment := core.SentimentPositive
		if command == "/bad" {
			sentiment = core.SentimentNegative
		}
		fb, err := s.chat.Feedback(ctx, s.last, sentiment, rest)
		if err != nil {
			return false, err
		}
		r.Success(fmt.Sprintf("Recorded %s feedback", fb.Sentiment))
	case "/sql":
		if s.last == nil || s.last.SQL == "" {
			return false, errors.New("no SQL for the last answer")
		}
		r.Println(s.last.SQL)
	case "/thread":
		r.Println(s.chat.ID())
	default:
		return false, fmt.Errorf("unknown command %s (type /help for commands)", command)
	}
	return false, nil
}

func printChatHelp(w io.Writer) {
	help := `
Commands:
  /good [reason]  Rate the last answer as correct
  /bad <reason>   Rate the last answer as wrong
  /sql            Show the SQL of the last answer
  /thread         Show the thread id
  /help           Show this help message
  /quit           Exit
`
	_, _ = fmt.Fprintln(w, help)
}

func chatCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("/good"),
		readline.PcItem("/bad"),
		readline.PcItem("/sql"),
		readline.PcItem("/thread"),
		readline.PcItem("/help"),
		readline.PcItem("/quit"),
	)
}
