// Command analyze uploads a dance video through the relay, waits for the
// analysis and prints it. With -id it prints a shared result instead.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bryanwahyu/dance-analyzer/internal/domain/results"
	"github.com/bryanwahyu/dance-analyzer/internal/infra/ai/prompt"
	"github.com/bryanwahyu/dance-analyzer/internal/logging"
	"github.com/bryanwahyu/dance-analyzer/internal/orchestrator"
	"github.com/bryanwahyu/dance-analyzer/internal/render"
)

func main() {
	var (
		relayURL = flag.String("relay", "http://localhost:8080/", "relay endpoint")
		origin   = flag.String("origin", "http://localhost:3000", "Origin header sent to the relay")
		file     = flag.String("file", "", "video to analyze")
		genre    = flag.String("genre", "salsa", "dance genre: "+genreList())
		typ      = flag.String("type", "", "optional analysis type stored with the result")
		id       = flag.String("id", "", "print the shared result with this id and exit")
		color    = flag.Bool("color", true, "highlight headings and timestamps")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	logger := logging.NewLoggerTo(os.Stderr, *logLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := orchestrator.NewRelayClient(*relayURL, *origin, &http.Client{})
	out := render.Renderer{Labels: render.DefaultLabels, Color: *color}

	hooks := orchestrator.Hooks{
		OnPhase: func(p orchestrator.Phase) {
			if !p.Terminal() {
				fmt.Fprintf(os.Stderr, "\n%s...\n", phaseLabel(p))
			}
		},
		OnProgress: func(p orchestrator.Progress) {
			fmt.Fprintf(os.Stderr, "\r  %3d%%  %.1f/%.1f MB  %.2f MB/s",
				p.Percent, float64(p.Bytes)/(1<<20), float64(p.Total)/(1<<20), p.MBPerSec)
		},
		OnRetry: func(attempt int, wait time.Duration, err error) {
			fmt.Fprintf(os.Stderr, "\n  attempt %d failed (%v), retrying in %s\n", attempt, err, wait)
		},
	}
	orch := orchestrator.New(client, prompt.ForGenre, orchestrator.Options{Hooks: hooks, Logger: logger})

	if *id != "" {
		shared, err := orch.Fetch(ctx, *id)
		if errors.Is(err, results.ErrNotFound) {
			exit("result not found or expired")
		}
		if err != nil {
			exit(err.Error())
		}
		fmt.Printf("%s analysis, %s\n\n", shared.Genre, shared.CreatedAt.Local().Format("2006-01-02 15:04"))
		if err := out.Render(os.Stdout, shared.Result); err != nil {
			exit(err.Error())
		}
		return
	}

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	if _, err := prompt.ParseGenre(*genre); err != nil {
		exit(err.Error())
	}
	src, err := orchestrator.FileSource(*file)
	if err != nil {
		exit(err.Error())
	}

	job, err := orch.Run(ctx, src, *genre, *typ)
	if err != nil {
		exit(describe(err))
	}
	fmt.Fprintln(os.Stderr)
	if err := out.Render(os.Stdout, job.Result); err != nil {
		exit(err.Error())
	}
	if job.ResultID != "" {
		fmt.Fprintf(os.Stderr, "\nshare id: %s\n", job.ResultID)
	}
}

func phaseLabel(p orchestrator.Phase) string {
	switch p {
	case orchestrator.PhaseInit:
		return "Preparing upload"
	case orchestrator.PhaseUploading:
		return "Uploading"
	case orchestrator.PhaseProcessing:
		return "Waiting for video processing"
	case orchestrator.PhaseAnalyzing:
		return "Analyzing"
	default:
		return string(p)
	}
}

// describe turns orchestrator failures into user-facing messages.
func describe(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrRegionRestricted):
		return "The analysis service is not available in your region. Try again through a VPN or from another network."
	case errors.Is(err, orchestrator.ErrFileTooLarge):
		return err.Error() + ". Trim or compress the video and try again."
	case errors.Is(err, orchestrator.ErrProcessingTimeout):
		return "The video took too long to process. Try a shorter clip."
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}

func genreList() string {
	names := make([]string, 0, 4)
	for _, g := range prompt.Genres() {
		names = append(names, string(g))
	}
	return strings.Join(names, ", ")
}

func exit(msg string) {
	fmt.Fprintln(os.Stderr, "\nerror:", msg)
	os.Exit(1)
}
