package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/sweepwatch/internal/feed"
	"github.com/psantana5/sweepwatch/internal/progress"
	"github.com/psantana5/sweepwatch/pkg/auth"
	"github.com/psantana5/sweepwatch/pkg/logging"
	"github.com/psantana5/sweepwatch/pkg/shutdown"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the job continuously",
	Long: `Watch mode polls the status and log endpoints until interrupted. It
polls fast while a run is active and slows down when idle. A line is printed
whenever the view changes.

With --listen the render model, the log window and Prometheus metrics are
also served over HTTP, and external renderers can start or stop runs.

Example:
  sweepctl watch
  sweepctl watch --listen :9180
  sweepctl watch -o json`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("listen", "", "serve the render feed on this address (e.g. :9180)")
	viper.BindPFlag("feed.listen", watchCmd.Flags().Lookup("listen"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := rt.engine.Verify(ctx); err != nil {
		return fmt.Errorf("failed to verify API key: %w", err)
	}

	mgr := shutdown.New(10*time.Second, rt.logger)

	rt.engine.OnRender(renderPrinter())
	if err := rt.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	mgr.Register("engine", func(context.Context) error {
		rt.engine.Stop()
		return nil
	})

	if listen := viper.GetString("feed.listen"); listen != "" {
		handler := feed.NewHandler(rt.engine, rt.metrics, rt.logger)
		if hash := viper.GetString("feed.token_hash"); hash != "" {
			verifier, err := auth.NewVerifier(hash)
			if err != nil {
				mgr.Shutdown()
				return err
			}
			handler.SetActionAuth(verifier)
		}
		rt.engine.OnRender(handler.Broadcast)
		srv := feed.NewServer(listen, handler)
		if err := srv.Start(); err != nil {
			mgr.Shutdown()
			return err
		}
		mgr.Register("feed server", shutdown.StopHTTPServer(srv.HTTPServer()))
	}

	// A logout stops the poll loops; end the watch with it.
	go func() {
		select {
		case <-rt.engine.Done():
			cancel()
		case <-mgr.Done():
		}
	}()

	rt.logger.Info("watching", logging.Fields{"server": GetServerURL()})
	if err := mgr.WaitWithContext(ctx); err != nil {
		return err
	}
	if reason := rt.session.LastLogoutReason(); reason != "" {
		return fmt.Errorf("session ended: %s", reason)
	}
	return nil
}

// renderPrinter prints a line per distinct view, or every model as a JSON
// line with -o json
func renderPrinter() func(progress.RenderModel) {
	var mu sync.Mutex
	var last string
	encoder := json.NewEncoder(os.Stdout)

	return func(m progress.RenderModel) {
		mu.Lock()
		defer mu.Unlock()

		if outputFormat == "json" {
			encoder.Encode(m)
			return
		}
		line := summaryLine(m)
		if line == last {
			return
		}
		last = line
		fmt.Printf("%s  %s\n", m.UpdatedAt.Format(time.TimeOnly), line)
	}
}

func summaryLine(m progress.RenderModel) string {
	parts := []string{fmt.Sprintf("[%s]", m.Phase), m.StatusText}

	switch {
	case m.Preparing != nil:
		if s := m.Preparing.Subscriptions; s != nil {
			parts = append(parts, fmt.Sprintf("subscriptions=%d", s.Total))
		}
	case m.Progress != nil:
		p := m.Progress
		parts = append(parts, fmt.Sprintf("%.1f%% (%d/%d) available=%d", p.Percent, p.Processed, p.Total, p.Available))
	case m.History != nil && m.History.Found:
		h := m.History
		parts = append(parts, fmt.Sprintf("last run: %s nodes, %d available, took %s", h.TotalText, h.Available, h.DurationText))
	case m.History != nil:
		parts = append(parts, progress.HistoryNotFoundLabel)
	}
	return strings.Join(parts, "  ")
}
