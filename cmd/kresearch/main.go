package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/kresearch/pkg/config"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/research"
	"github.com/mikeboe/kresearch/pkg/server"
)

var (
	query     string
	mode      string
	minIter   int
	maxIter   string
	provider  string
	noClarify bool
	outDir    string
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "kresearch",
		Short: "A terminal-based multi-agent research assistant",
		Long:  `kresearch answers a research question by iterating Manager, Worker and Verifier agents until the knowledge is sufficient, then writes a Markdown report.`,
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&query, "query", "q", "", "The research question (prompted when empty)")
	rootCmd.Flags().StringVarP(&mode, "mode", "m", "", "Research mode: standard or deep (default from RESEARCH_MODE)")
	rootCmd.Flags().IntVar(&minIter, "min", -1, "Deep mode: minimum iterations (default from MIN_ITERATIONS)")
	rootCmd.Flags().StringVar(&maxIter, "max", "", `Iteration cap, "unbounded" or 0 for none (default from MAX_ITERATIONS)`)
	rootCmd.Flags().StringVar(&provider, "provider", "", "LLM provider: gemini or openai (default from PROVIDER)")
	rootCmd.Flags().BoolVar(&noClarify, "no-clarify", false, "Skip the clarification questions")
	rootCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory the report is written to")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if provider != "" {
		os.Setenv("PROVIDER", provider)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := cfg.NewProvider()
	if err != nil {
		return err
	}
	search, err := cfg.NewSearch()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in := bufio.NewReader(os.Stdin)
	if query == "" {
		fmt.Print("Enter research question: ")
		query = readLine(in)
		if query == "" {
			return errors.New("a research question is required")
		}
	}

	req := server.StartRequest{Query: query, Mode: mode}
	if minIter >= 0 {
		req.MinIterations = &minIter
	}
	if maxIter != "" {
		n, err := config.ParseMaxIterations(maxIter)
		if err != nil {
			return err
		}
		req.MaxIterations = &n
	}

	svc := server.NewService(history.NewMemoryStore(), p, cfg.APIKeys(), search, cfg.RunConfig())

	if !noClarify {
		req.Query = clarify(ctx, svc, in, query)
	}

	id, err := svc.StartRun(ctx, req)
	if err != nil {
		return err
	}

	// Ctrl-C pauses the run, so the CLI stops instead of resuming.
	go func() {
		<-ctx.Done()
		_ = svc.CancelRun(context.Background(), id)
	}()
	if err := svc.Wait(context.Background(), id); err != nil {
		return err
	}

	item, err := svc.GetSession(context.Background(), id)
	if err != nil {
		return err
	}
	elapsed := time.Duration(item.ElapsedTime) * time.Millisecond

	switch item.AgentState {
	case research.StateComplete:
	case research.StatePaused:
		return fmt.Errorf("research paused after %d iterations (%s): %s", item.GlobalContext.Iteration, elapsed.Round(time.Second), item.Error)
	default:
		return fmt.Errorf("research failed: %s", item.Error)
	}

	path := fmt.Sprintf("%s/report_%d.md", strings.TrimRight(outDir, "/"), time.Now().Unix())
	if err := os.WriteFile(path, []byte(*item.FinalReport), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	slog.Info("Research complete", "iterations", item.GlobalContext.Iteration, "facts", len(item.GlobalContext.KnowledgeBank), "elapsed", elapsed.Round(time.Second), "report", path)
	return nil
}

// clarify runs the clarification conversation until the query is clear or
// the user skips it, and returns the query to research.
func clarify(ctx context.Context, svc *server.Service, in *bufio.Reader, query string) string {
	var transcript strings.Builder
	for {
		out, err := svc.Clarify(ctx, query, transcript.String())
		if err != nil {
			slog.Warn("Clarification skipped", "error", err)
			break
		}
		if out.IsClear || len(out.Questions) == 0 {
			break
		}

		fmt.Println("\nA few questions to focus the research (empty answer to skip):")
		for i, q := range out.Questions {
			fmt.Printf("  %d. %s\n", i+1, q)
		}
		fmt.Print("> ")
		answer := readLine(in)
		if answer == "" {
			break
		}
		fmt.Fprintf(&transcript, "AI: %s\nUser: %s\n", strings.Join(out.Questions, " "), answer)
	}

	if transcript.Len() == 0 {
		return query
	}
	return query + "\n\nClarifications:\n" + strings.TrimSpace(transcript.String())
}

func readLine(r *bufio.Reader) string {
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	return strings.TrimSpace(line)
}
