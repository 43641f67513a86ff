package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/wenhaiyang6/parenting/internal/citation"
	"github.com/wenhaiyang6/parenting/internal/cli"
	"github.com/wenhaiyang6/parenting/internal/client"
	"github.com/wenhaiyang6/parenting/internal/config"
	"github.com/wenhaiyang6/parenting/internal/deviceid"
	"github.com/wenhaiyang6/parenting/internal/models"
	"github.com/wenhaiyang6/parenting/internal/render"
)

// clientFlags are the flags shared by every client command.
type clientFlags struct {
	config *string
	server *string
	plain  *bool
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		config: fs.String("config", defaultConfigPath, "config file path"),
		server: fs.String("server", "", "server URL (default: client.server_url)"),
		plain:  fs.Bool("plain", false, "disable colors"),
	}
}

// session is everything a client command needs once flags are parsed.
type session struct {
	cfg    *config.Config
	api    *client.Client
	styles cli.Styles
	cache  *citation.Cache
}

func (f *clientFlags) session() *session {
	cfg, _, err := loadConfig(*f.config)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	serverURL := cfg.Client.ServerURL
	if *f.server != "" {
		serverURL = *f.server
	}
	id, err := deviceid.Load(cfg.Client.IdentityPath)
	if err != nil {
		fatalf("Failed to load identity: %v", err)
	}
	return &session{
		cfg:    cfg,
		api:    client.New(serverURL, id),
		styles: cli.NewStyles(*f.plain),
		cache:  citation.NewCache(cfg.Ask.CitationCacheSize),
	}
}

func (s *session) renderer(style string) *render.Renderer {
	if style == "" {
		style = s.cfg.Client.Style
	}
	r, err := render.New(style, 100, s.cache)
	if err != nil {
		fatalf("%v", err)
	}
	return r
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cf := addClientFlags(fs)
	conversationID := fs.String("c", "", "continue the conversation with this id")
	raw := fs.Bool("raw", false, "print the answer as it streams, without markdown rendering")
	interactive := fs.Bool("i", false, "keep asking: read follow-up questions from stdin")
	output := fs.String("output", "text", "output format: text or json")
	style := fs.String("style", "", "glamour style (auto, dark, light, notty)")
	_ = fs.Parse(searchArgsReorder(args))

	s := cf.session()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	question := buildSearchQuery(fs.Args())
	if question == "" && !*interactive {
		fmt.Fprintln(os.Stderr, "Usage: parenting ask [flags] <question>")
		os.Exit(1)
	}

	t := &asker{
		s:              s,
		out:            os.Stdout,
		raw:            *raw,
		json:           cli.OutputFormat(*output) == cli.OutputJSON,
		conversationID: *conversationID,
	}
	if !t.raw && !t.json {
		t.render = s.renderer(*style)
	}

	if question != "" {
		if err := t.ask(ctx, question); err != nil {
			fatalf("%v", err)
		}
	}
	if !*interactive {
		return
	}
	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, s.styles.Accent.Render("> "))
		if !in.Scan() {
			return
		}
		q := strings.TrimSpace(in.Text())
		if q == "" {
			continue
		}
		if err := t.ask(ctx, q); err != nil {
			fmt.Fprintln(os.Stderr, s.styles.Error.Render(err.Error()))
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// asker runs consecutive turns of one conversation.
type asker struct {
	s              *session
	out            io.Writer
	render         *render.Renderer
	raw            bool
	json           bool
	conversationID string
	history        []models.HistoryTurn
}

func (a *asker) ask(ctx context.Context, question string) error {
	st := a.s.styles
	h := client.Handlers{
		OnTitle: func(_, title string) {
			if !a.json {
				fmt.Fprintln(os.Stderr, st.Title.Render(title))
			}
		},
		OnSearching: func(q string) {
			if !a.json {
				fmt.Fprintln(os.Stderr, st.Muted.Render("Searching: "+q))
			}
		},
	}
	var live *preview
	switch {
	case a.json:
	case a.raw:
		h.OnContent = func(delta string) { fmt.Fprint(a.out, delta) }
	case isTerminal(os.Stderr):
		live = newPreview(os.Stderr, func(md string) (string, error) { return a.render.Answer(md, nil) })
		h.OnContent = live.Add
	}

	ans, err := a.s.api.AskStream(ctx, models.AskRequest{
		Question:            question,
		ConversationID:      a.conversationID,
		ConversationHistory: a.history,
	}, h)
	if live != nil {
		live.Clear()
	}
	if err != nil {
		return err
	}
	a.conversationID = ans.ConversationID
	a.history = append(a.history, models.HistoryTurn{Question: question, Answer: ans.Text})

	if a.json {
		return writeJSON(a.out, ans)
	}
	if a.raw {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, render.SourcesMarkdown(a.s.cache.Reconcile(ans.Text, ans.Sources)))
	} else {
		rendered, err := a.render.Answer(ans.Text, ans.Sources)
		if err != nil {
			return err
		}
		fmt.Fprint(a.out, rendered)
	}
	if ans.Truncated {
		fmt.Fprintln(os.Stderr, st.Error.Render("The answer was cut off before it finished."))
	}
	cli.WriteFollowUps(a.out, ans.FollowUps, st)
	if ans.Title != "" {
		fmt.Fprintln(os.Stderr, st.Muted.Render("Conversation: "+ans.ConversationID))
	}
	return nil
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cf := addClientFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	convs, err := s.api.Conversations(ctx)
	if err != nil {
		fatalf("Failed to list conversations: %v", err)
	}
	if err := cli.WriteConversations(os.Stdout, convs, cli.OutputFormat(*output), s.styles); err != nil {
		fatalf("%v", err)
	}
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	cf := addClientFlags(fs)
	style := fs.String("style", "", "glamour style (auto, dark, light, notty)")
	_ = fs.Parse(searchArgsReorder(args))
	id := requireID(fs, "show")

	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	conv, err := s.api.Conversation(ctx, id)
	if err != nil {
		fatalf("%s", describe(err, id))
	}
	out, err := s.renderer(*style).Conversation(conv)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Print(out)
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(searchArgsReorder(args))
	id := requireID(fs, "delete")

	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	if err := s.api.Delete(ctx, id); err != nil {
		fatalf("%s", describe(err, id))
	}
	fmt.Println(s.styles.Success.Render("Deleted conversation " + id))
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	cf := addClientFlags(fs)
	limit := fs.Int("limit", 10, "number of results")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(searchArgsReorder(args))

	query := buildSearchQuery(fs.Args())
	if query == "" {
		fmt.Fprintln(os.Stderr, "Usage: parenting search [flags] <query>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	res, err := s.api.Search(ctx, query, *limit)
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	format := cli.OutputFormat(*output)
	if err := cli.WriteSearchHits(os.Stdout, query, res.Hits, format, s.styles); err != nil {
		fatalf("%v", err)
	}
	if format != cli.OutputJSON {
		cli.WriteSuggestion(os.Stdout, res.Suggestion, s.styles)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cf := addClientFlags(fs)
	outPath := fs.String("o", "", "output file (default: stdout)")
	_ = fs.Parse(searchArgsReorder(args))
	id := requireID(fs, "export")

	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	conv, err := s.api.Conversation(ctx, id)
	if err != nil {
		fatalf("%s", describe(err, id))
	}

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			fatalf("Failed to create %s: %v", *outPath, err)
		}
		defer f.Close()
		w = f
	}
	if err := render.ExportHTML(w, conv, s.cache); err != nil {
		fatalf("Export failed: %v", err)
	}
	if *outPath != "" {
		fmt.Fprintln(os.Stderr, s.styles.Success.Render("Wrote "+*outPath))
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(args)

	s := cf.session()
	ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
	defer cancel()
	report, err := s.api.Health(ctx)
	if err != nil {
		fatalf("Server unavailable: %v", err)
	}
	keys := make([]string, 0, len(report))
	for k := range report {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-14s %v\n", k+":", report[k])
	}
}

func runWhoami(args []string) {
	fs := flag.NewFlagSet("whoami", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	id, err := deviceid.Load(cfg.Client.IdentityPath)
	if err != nil {
		fatalf("Failed to load identity: %v", err)
	}
	fmt.Println(id)
	fmt.Fprintf(os.Stderr, "stored at %s\n", cfg.Client.IdentityPath)
}

// searchArgsReorder moves flags that appear after the positional arguments to the front so
// that flag.Parse sees them; the flag package stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// buildSearchQuery joins positional arguments into one query or question.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func requireID(fs *flag.FlagSet, command string) string {
	id := strings.TrimSpace(fs.Arg(0))
	if id == "" {
		fmt.Fprintf(os.Stderr, "Usage: parenting %s [flags] <conversation-id>\n", command)
		os.Exit(1)
	}
	return id
}

func describe(err error, id string) string {
	if client.NotFound(err) {
		return fmt.Sprintf("Conversation %s not found", id)
	}
	return err.Error()
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
