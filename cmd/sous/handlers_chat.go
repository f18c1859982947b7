package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/haasonsaas/sous/internal/agent"
	"github.com/haasonsaas/sous/internal/sessions"
	"github.com/haasonsaas/sous/pkg/models"
)

type chatOptions struct {
	configPath     string
	userID         string
	conversationID string
	seedFile       string
	fake           bool
}

// runner starts orchestrator runs.
type runner interface {
	Run(ctx context.Context, req agent.RunRequest) (<-chan models.Event, error)
}

// chatSession is a line-oriented chat loop over a runner.
type chatSession struct {
	runner         runner
	in             io.Reader
	out            io.Writer
	userID         string
	conversationID string

	// prompt is printed before each line when the input is a terminal.
	prompt bool

	// turnContext scopes one reply. Defaults to context.WithCancel.
	turnContext func(context.Context) (context.Context, context.CancelFunc)
}

// =============================================================================
// Chat Command Handler
// =============================================================================

func runChat(cmd *cobra.Command, opts chatOptions) error {
	cfg, err := loadConfig(opts.configPath, opts.fake)
	if err != nil {
		return err
	}
	// Keep log lines out of the conversation unless asked for.
	if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, appOptions{SeedFile: opts.seedFile, LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.orchestrator.Wait()
		a.Close(closeCtx)
	}()

	session := &chatSession{
		runner:         a.orchestrator,
		in:             cmd.InOrStdin(),
		out:            cmd.OutOrStdout(),
		userID:         opts.userID,
		conversationID: opts.conversationID,
		prompt:         term.IsTerminal(int(os.Stdin.Fd())),
		turnContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
	if session.prompt {
		fmt.Fprintln(session.out, "Chatting as", opts.userID+". Type /new for a new conversation, /quit to exit.")
	}
	return session.Loop(ctx)
}

// Loop reads lines until EOF or /quit and sends each as one message.
func (s *chatSession) Loop(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if s.prompt {
			fmt.Fprint(s.out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			s.conversationID = ""
			fmt.Fprintln(s.out, "Started a new conversation.")
			continue
		}
		if err := s.Send(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// Send runs one user turn and prints its events. Run failures are printed
// and do not end the session; only a closed writer does.
func (s *chatSession) Send(ctx context.Context, text string) error {
	turnContext := s.turnContext
	if turnContext == nil {
		turnContext = context.WithCancel
	}
	turnCtx, cancel := turnContext(ctx)
	defer cancel()

	events, err := s.runner.Run(turnCtx, agent.RunRequest{
		UserID:         s.userID,
		Message:        text,
		ConversationID: s.conversationID,
	})
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			fmt.Fprintf(s.out, "Conversation %s was not found. Type /new to start over.\n", s.conversationID)
			return nil
		}
		fmt.Fprintf(s.out, "error: %v\n", err)
		return nil
	}

	var writeErr error
	for event := range events {
		if writeErr != nil {
			continue
		}
		writeErr = s.printEvent(event)
	}
	return writeErr
}

func (s *chatSession) printEvent(event models.Event) error {
	var err error
	switch event.Type {
	case models.EventConversation:
		if event.Conversation != nil {
			s.conversationID = event.Conversation.ID
		}
	case models.EventTextDelta:
		if event.TextDelta != nil {
			_, err = io.WriteString(s.out, event.TextDelta.Delta)
		}
	case models.EventToolUseStart:
		if event.ToolStart != nil {
			_, err = fmt.Fprintf(s.out, "\n  [%s]\n", event.ToolStart.Name)
		}
	case models.EventToolUseResult:
		if event.ToolResult != nil {
			_, err = fmt.Fprintf(s.out, "  [%s] %s\n", event.ToolResult.Name, event.ToolResult.ResultSummary)
		}
	case models.EventMessageComplete:
		_, err = fmt.Fprintln(s.out)
		if err == nil && event.Complete != nil && len(event.Complete.RichBlocks) > 0 {
			_, err = fmt.Fprintf(s.out, "  (%d rich blocks)\n", len(event.Complete.RichBlocks))
		}
	case models.EventError:
		if event.Error != nil {
			_, err = fmt.Fprintf(s.out, "\nerror: %s\n", event.Error.Message)
		}
	}
	return err
}
