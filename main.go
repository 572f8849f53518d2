// Command echoflow runs the guided content-creation workflow against a remote
// generation backend: describe a product over chat, pick a target persona,
// edit the generated script, and preview the result.
package main

import (
	"bufio"
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"echoflow/pkg/config"
	"echoflow/pkg/eventlog"
	"echoflow/pkg/logx"
	"echoflow/pkg/metrics"
	"echoflow/pkg/session"
	"echoflow/pkg/workflow"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "echoflow: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger := logx.NewLogger("main")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rec := metrics.NewPrometheusRecorder()
	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	var events *eventlog.Writer
	if cfg.Storage.EventDBPath != "" {
		events, err = eventlog.Open(cfg.Storage.EventDBPath)
		if err != nil {
			return logx.Wrap(err, "open event log")
		}
		defer func() { _ = events.Close() }()
	}

	var stats *metrics.QueryService
	if cfg.Metrics.PrometheusURL != "" {
		stats, err = metrics.NewQueryService(cfg.Metrics.PrometheusURL)
		if err != nil {
			return logx.Wrap(err, "create metrics query service")
		}
	}

	client := session.NewClient(cfg.Backend.BaseURL, cfg.RequestTimeoutDuration(), rec)
	wf, err := workflow.NewRun(cfg, client, rec, events)
	if err != nil {
		return err
	}

	logger.Info("Workflow started (session %s, backend %s)", wf.SessionID(), cfg.Backend.BaseURL)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		logger.Warn("stdin is not a terminal; reading commands non-interactively")
	}

	return interact(ctx, wf, stats)
}

func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics server failed: %v", err)
	}
}

// interact drives the stage loop on stdin/stdout until the user quits or the
// context is cancelled.
func interact(ctx context.Context, wf *workflow.Run, stats *metrics.QueryService) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for _, msg := range wf.Messages() {
		fmt.Printf("%s> %s\n", msg.Role, msg.Content)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		default:
		}

		fmt.Printf("[%s] ", wf.Stage())
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}

		if err := dispatch(ctx, wf, stats, scanner, line); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func dispatch(ctx context.Context, wf *workflow.Run, stats *metrics.QueryService, scanner *bufio.Scanner, line string) error {
	switch wf.Stage() {
	case workflow.StageChat:
		return chatStep(ctx, wf, line)
	case workflow.StagePersonaSelection:
		return personaStep(ctx, wf, line)
	case workflow.StageScriptEditing:
		return editStep(ctx, wf, scanner, line)
	case workflow.StagePreview:
		return previewStep(ctx, wf, stats, line)
	default:
		return fmt.Errorf("unknown stage %s", wf.Stage())
	}
}

func chatStep(ctx context.Context, wf *workflow.Run, line string) error {
	if line == "/continue" {
		info, err := wf.CompleteChat(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Producto: %s (dirigido a: %s)\n", info.Name, info.TargetMarket)
		personas, err := wf.Personas(ctx)
		if err != nil {
			return err
		}
		for _, p := range personas {
			fmt.Printf("  [%s] %s, %d años, %s\n", p.ID, p.Name, p.Age, p.Occupation)
		}
		fmt.Println("Elegí una persona por id.")
		return nil
	}

	reply, final, err := wf.Ask(ctx, line)
	if err != nil {
		return err
	}
	fmt.Printf("assistant> %s\n", reply)
	if final {
		fmt.Println("(escribí /continue para pasar a la selección de persona)")
	}
	return nil
}

func personaStep(ctx context.Context, wf *workflow.Run, line string) error {
	scr, err := wf.SelectPersona(ctx, line)
	if err != nil {
		return err
	}
	fmt.Printf("--- guión v%d ---\n%s\n", scr.Version, scr.Text)
	fmt.Println("(/edit, /regenerate o /continue)")
	return nil
}

func editStep(ctx context.Context, wf *workflow.Run, scanner *bufio.Scanner, line string) error {
	switch line {
	case "/show":
		if scr, ok := wf.Script(); ok {
			fmt.Printf("--- guión v%d ---\n%s\n", scr.Version, scr.Text)
		}
		return nil
	case "/edit":
		fmt.Println("Nuevo texto; terminá con una línea que contenga solo \".\"")
		var lines []string
		for scanner.Scan() {
			text := scanner.Text()
			if strings.TrimSpace(text) == "." {
				break
			}
			lines = append(lines, text)
		}
		return wf.EditScript(strings.Join(lines, "\n"))
	case "/regenerate":
		text, err := wf.RegenerateScript(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("--- guión regenerado ---\n%s\n", text)
		return nil
	case "/continue":
		scr, err := wf.CommitScript(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Guión bloqueado (v%d). /back para seguir editando, /export para verlo, /quit para salir.\n", scr.Version)
		return nil
	default:
		return fmt.Errorf("comando desconocido %q (/show, /edit, /regenerate, /continue)", line)
	}
}

func previewStep(ctx context.Context, wf *workflow.Run, stats *metrics.QueryService, line string) error {
	switch line {
	case "/back":
		return wf.BackToScript(ctx)
	case "/export":
		if scr, ok := wf.Script(); ok {
			fmt.Println(scr.Text)
		}
		return nil
	case "/stats":
		if stats == nil {
			return fmt.Errorf("metrics.prometheus_url is not configured")
		}
		m, err := stats.GetSessionMetrics(ctx, wf.SessionID())
		if err != nil {
			return err
		}
		fmt.Printf("requests=%d errors=%d regenerations=%d avg=%.3fs\n",
			m.BackendRequests, m.BackendErrors, m.Regenerations, m.AvgRequestSecs)
		return nil
	default:
		return fmt.Errorf("comando desconocido %q (/back, /export, /stats, /quit)", line)
	}
}
