package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/arbor/pkg/chatlog"
	"github.com/go-go-golems/arbor/pkg/chatstream"
	"github.com/go-go-golems/arbor/pkg/events"
	"github.com/go-go-golems/arbor/pkg/render"
	"github.com/go-go-golems/arbor/pkg/store"
	"github.com/go-go-golems/arbor/pkg/transport"
)

const chatTopic = "chat"

// pflagGetter wraps a cobra flag set with error-swallowing accessors;
// all flags below are defined in newChatCommand, lookups cannot fail.
type pflagGetter struct {
	flags *pflag.FlagSet
}

func (p *pflagGetter) getString(name string) string {
	v, _ := p.flags.GetString(name)
	return v
}

func (p *pflagGetter) getFloat64(name string) float64 {
	v, _ := p.flags.GetFloat64(name)
	return v
}

func (p *pflagGetter) getInt(name string) int {
	v, _ := p.flags.GetInt(name)
	return v
}

func (p *pflagGetter) changed(name string) bool {
	return p.flags.Changed(name)
}

func newChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive branching chat session",
		RunE:  runChat,
	}

	cmd.Flags().String("transport", "openai", "Transport to use (openai, ollama)")
	cmd.Flags().String("model", "", "Model to use")
	cmd.Flags().Float64("temperature", 0, "Sampling temperature")
	cmd.Flags().Float64("top-p", 0, "Nucleus sampling cutoff")
	cmd.Flags().Int("max-tokens", 0, "Maximum tokens to generate")
	cmd.Flags().String("system", "", "System prompt for new conversations")
	cmd.Flags().String("profile", "", "Named profile from the profiles file")
	cmd.Flags().String("profiles-file", "", "Profiles file (default ~/.arbor/profiles.yaml)")
	cmd.Flags().String("load", "", "Conversation file to resume")
	cmd.Flags().String("autosave", "no", "Autosave the conversation (yes, no)")
	cmd.Flags().String("autosave-dir", "", "Autosave directory (default ~/.arbor/history)")
	cmd.Flags().String("autosave-format", "", "Autosave path template")
	cmd.Flags().String("style", "", "Markdown style (default: auto)")

	return cmd
}

type chatSession struct {
	log      *chatlog.Chatlog
	appender *chatstream.Appender
	opts     *transport.Options
	renderer render.Renderer
	sink     events.EventSink
	out      *os.File
}

func runChat(cmd *cobra.Command, args []string) error {
	flags := &pflagGetter{flags: cmd.Flags()}

	profile, err := resolveProfile(flags)
	if err != nil {
		return err
	}

	opts := &transport.Options{
		Model:       profile.Model,
		Temperature: profile.Temperature,
		TopP:        profile.TopP,
		MaxTokens:   profile.MaxTokens,
		Stop:        profile.Stop,
	}
	if opts.Model == "" {
		return errors.New("no model configured, use --model or a profile")
	}

	cl, err := loadOrCreateChatlog(flags, profile.System)
	if err != nil {
		return err
	}

	t, err := makeTransport(profile.Transport)
	if err != nil {
		return err
	}

	if err := setupAutosave(flags, cl); err != nil {
		return err
	}

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetBool("verbose")))
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddHandler("chat-printer", chatTopic, events.StepPrinterFunc("", os.Stdout))

	manager := events.NewPublisherManager()
	manager.SubscribePublisher(chatTopic, router.Publisher)

	session := &chatSession{
		log:      cl,
		appender: chatstream.NewAppender(cl, t),
		opts:     opts,
		renderer: makeRenderer(flags),
		sink:     manager,
		out:      os.Stdout,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go dispatchInterrupts(interrupts, session.appender, cancel)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return session.repl(ctx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dispatchInterrupts cancels the in-flight stream on a signal and the
// whole session when no stream is running. Cancelling a stream keeps
// the session alive so partial output stays editable.
func dispatchInterrupts(signals <-chan os.Signal, appender *chatstream.Appender, cancel context.CancelFunc) {
	for range signals {
		if handle := appender.Active(); handle != nil {
			handle.Cancel()
			continue
		}
		cancel()
		return
	}
}

func resolveProfile(flags *pflagGetter) (Profile, error) {
	profile := Profile{
		Transport: flags.getString("transport"),
		Model:     flags.getString("model"),
		System:    flags.getString("system"),
	}

	name := flags.getString("profile")
	if name != "" {
		path := flags.getString("profiles-file")
		if path == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				homeDir = "."
			}
			path = homeDir + "/.arbor/profiles.yaml"
		}
		profiles, err := loadProfiles(path)
		if err != nil {
			return profile, err
		}
		p, ok := profiles[name]
		if !ok {
			return profile, errors.Errorf("unknown profile %s", name)
		}
		// explicit flags win over the profile
		if profile.Model == "" {
			profile.Model = p.Model
		}
		if p.Transport != "" && !flags.changed("transport") {
			profile.Transport = p.Transport
		}
		if profile.System == "" {
			profile.System = p.System
		}
		profile.Temperature = p.Temperature
		profile.TopP = p.TopP
		profile.MaxTokens = p.MaxTokens
		profile.Stop = p.Stop
	}

	if flags.changed("temperature") {
		v := flags.getFloat64("temperature")
		profile.Temperature = &v
	}
	if flags.changed("top-p") {
		v := flags.getFloat64("top-p")
		profile.TopP = &v
	}
	if flags.changed("max-tokens") {
		v := flags.getInt("max-tokens")
		profile.MaxTokens = &v
	}

	return profile, nil
}

func loadOrCreateChatlog(flags *pflagGetter, system string) (*chatlog.Chatlog, error) {
	if path := flags.getString("load"); path != "" {
		cl, err := store.NewFileStore(path).Load()
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", path).Int("messages", cl.Len()).Msg("resumed conversation")
		return cl, nil
	}

	cl := chatlog.NewChatlog()
	if system != "" {
		cl.AddMessage(chatlog.NewValue(chatlog.RoleSystem, system))
	}
	return cl, nil
}

func makeTransport(name string) (transport.Transport, error) {
	switch name {
	case "openai":
		return transport.NewOpenAITransport(transport.OpenAISettings{
			APIKey:  viper.GetString("openai-api-key"),
			BaseURL: viper.GetString("openai-base-url"),
		})
	case "ollama":
		return transport.NewOllamaTransport()
	}
	return nil, errors.Errorf("unknown transport %s", name)
}

func setupAutosave(flags *pflagGetter, cl *chatlog.Chatlog) error {
	if strings.ToLower(flags.getString("autosave")) != "yes" {
		return nil
	}

	saver, err := store.NewAutosaver(
		flags.getString("autosave-format"),
		store.WithAutosaveDir(flags.getString("autosave-dir")),
	)
	if err != nil {
		return err
	}
	cl.Subscribe(saver)
	return nil
}

func makeRenderer(flags *pflagGetter) render.Renderer {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return render.PlainRenderer{}
	}
	renderer, err := render.NewMarkdownRenderer(flags.getString("style"), 80)
	if err != nil {
		log.Warn().Err(err).Msg("falling back to plain rendering")
		return render.PlainRenderer{}
	}
	return renderer
}

func (s *chatSession) repl(ctx context.Context) error {
	fmt.Fprintln(s.out, "arbor chat, /help for commands")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := s.command(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		s.log.AddMessage(chatlog.NewValue(chatlog.RoleUser, line))
		if err := s.stream(ctx); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// command dispatches a slash command. The quit return stops the repl.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		s.printHelp()
		return false, nil

	case "/show":
		return false, s.show()

	case "/next", "/prev":
		last := s.log.LastMessage()
		if last == nil {
			return false, nil
		}
		direction := chatlog.CycleNext
		if fields[0] == "/prev" {
			direction = chatlog.CyclePrev
		}
		s.log.CycleAlternatives(last.ID, direction)
		return false, s.show()

	case "/retry":
		last := s.log.LastMessage()
		if last == nil {
			return false, errors.New("nothing to retry")
		}
		// reserve a sibling slot so the new answer lands next to the
		// old one instead of below it
		if s.log.AddAlternative(last.ID, nil) == nil {
			return false, errors.New("nothing to retry")
		}
		return false, s.stream(ctx)

	case "/edit":
		if len(fields) < 3 {
			return false, errors.New("usage: /edit N new text")
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, errors.Wrap(err, "invalid position")
		}
		msg := s.log.NthMessage(pos)
		if msg == nil {
			return false, errors.Errorf("no message at position %d", pos)
		}
		s.log.SetContent(msg.ID, strings.TrimSpace(strings.TrimPrefix(rest, fields[1])))
		return false, s.show()

	case "/alt":
		if len(fields) < 3 {
			return false, errors.New("usage: /alt N alternative text")
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, errors.Wrap(err, "invalid position")
		}
		msg := s.log.NthMessage(pos)
		if msg == nil || msg.Value == nil {
			return false, errors.Errorf("no message at position %d", pos)
		}
		text := strings.TrimSpace(strings.TrimPrefix(rest, fields[1]))
		s.log.AddAlternative(msg.ID, chatlog.NewValue(msg.Value.Role, text))
		return false, s.show()

	case "/drop":
		if len(fields) != 2 {
			return false, errors.New("usage: /drop N")
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return false, errors.Wrap(err, "invalid position")
		}
		if !s.log.DeleteNth(pos) {
			return false, errors.Errorf("no message at position %d", pos)
		}
		return false, s.show()

	case "/save":
		if len(fields) != 2 {
			return false, errors.New("usage: /save path")
		}
		if err := store.NewFileStore(fields[1]).Save(s.log); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "saved to %s\n", fields[1])
		return false, nil
	}

	return false, errors.Errorf("unknown command %s", fields[0])
}

func (s *chatSession) stream(ctx context.Context) error {
	handle, err := s.appender.Start(ctx, s.opts, s.sink)
	if err != nil {
		return err
	}

	_, err = handle.Wait()
	return err
}

func (s *chatSession) show() error {
	artifacts, err := render.ActiveArtifacts(s.log, s.renderer)
	if err != nil {
		return err
	}
	for _, artifact := range artifacts {
		fmt.Fprintln(s.out, artifact)
	}
	return nil
}

func (s *chatSession) printHelp() {
	fmt.Fprint(s.out, `commands:
  /show            render the active path
  /next, /prev     cycle alternatives of the last message
  /retry           regenerate the last answer as a new alternative
  /alt N text      add an alternative at position N
  /edit N text     replace the content at position N
  /drop N          delete position N, keeping its descendants
  /save path       save the conversation
  /quit            exit
ctrl-c cancels an in-flight answer, partial output is kept
`)
}
