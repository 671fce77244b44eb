package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grnet/panoramix/internal/console"
	"github.com/grnet/panoramix/internal/events"
	"github.com/grnet/panoramix/internal/metrics"
	"github.com/grnet/panoramix/internal/model"
	zsync "github.com/grnet/panoramix/internal/sync"
	"github.com/grnet/panoramix/internal/ui"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Keep the stages in sync and print their transitions",
	Long:    "Keep the stages in sync and print every stage that turns running or completed.\n\n" + stateLegend,
	GroupID: "live",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		manual, _ := cmd.Flags().GetBool("manual")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		if !cmd.Flags().Changed("interval") && cfg.RefreshInterval > 0 {
			interval = cfg.RefreshInterval
		}
		if !cmd.Flags().Changed("manual") {
			manual = cfg.Manual
		}
		if metricsAddr == "" {
			metricsAddr = cfg.MetricsAddr
		}
		natsURL := cfg.NATSURL
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		copts := []console.Option{console.WithInterval(interval), console.WithManual(manual)}
		if cfg.SnapshotS3Bucket != "" {
			dest, err := zsync.NewS3Destination(ctx, cfg.SnapshotS3Bucket, cfg.SnapshotS3Key, cfg.SnapshotS3Region, cfg.SnapshotS3Endpoint)
			if err != nil {
				return err
			}
			logger.Info("exporting snapshots", "location", dest.Location())
			copts = append(copts, console.WithDestinations(dest))
		}

		s, err := openSession(ctx, httpClient, cmd.ErrOrStderr(), sessionOptions{natsURL: natsURL, console: copts})
		if err != nil {
			return err
		}
		defer s.close()

		if metricsAddr != "" {
			srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "addr", metricsAddr, "err", err)
				}
			}()
			defer srv.Close()
			logger.Info("serving metrics", "addr", metricsAddr)
		}

		updated, cancelUpdated, err := s.bus.Subscribe(events.TopicStageUpdated)
		if err != nil {
			return err
		}
		defer cancelUpdated()
		completed, cancelCompleted, err := s.bus.Subscribe(events.TopicStageCompleted)
		if err != nil {
			return err
		}
		defer cancelCompleted()

		out := cmd.OutOrStdout()
		if err := runShow(out, s.ctrl, "", false); err != nil {
			return err
		}

		// SIGHUP forces a refresh, which is the only way to refresh in
		// manual mode.
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-hup:
					if err := s.ctrl.Reload(ctx); err != nil && !errors.Is(err, zsync.ErrRefreshDropped) {
						logger.Warn("reload failed", "err", err)
					}
				}
			}
		}()

		s.ctrl.Start()
		printTransitions(ctx, out, initialStates(s.ctrl), updated, completed)
		return nil
	},
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Gatherer(), promhttp.HandlerOpts{}))
	return mux
}

type stageKey struct{ user, stage string }

func initialStates(ctrl *console.Controller) map[stageKey]model.State {
	states := make(map[stageKey]model.State)
	syncer := ctrl.Syncer()
	for _, user := range syncer.Users() {
		_ = syncer.View(user, func(set *model.StageSet) {
			for _, st := range set.Ordered() {
				states[stageKey{user, st.ID}] = st.State()
			}
		})
	}
	return states
}

func eventState(ev events.StageEvent) model.State {
	switch {
	case ev.Completed:
		return model.StateCompleted
	case ev.Running:
		return model.StateRunning
	default:
		return model.StatePending
	}
}

// printTransitions prints a line whenever a stage changes state, until ctx
// is done or both channels close.
func printTransitions(ctx context.Context, w io.Writer, states map[stageKey]model.State, updated, completed <-chan []byte) {
	for updated != nil || completed != nil {
		var data []byte
		var ok bool
		select {
		case <-ctx.Done():
			return
		case data, ok = <-updated:
			if !ok {
				updated = nil
				continue
			}
		case data, ok = <-completed:
			if !ok {
				completed = nil
				continue
			}
		}

		var ev events.StageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		key := stageKey{ev.User, ev.Stage}
		state := eventState(ev)
		if prev, seen := states[key]; seen && prev == state {
			continue
		}
		states[key] = state
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			time.Now().Format("15:04:05"), ui.RenderAccent(ev.User), ev.Stage, ui.RenderState(state), ui.RenderMuted(ev.InstanceID))
	}
}

func init() {
	watchCmd.Flags().Duration("interval", console.DefaultInterval, "refresh interval")
	watchCmd.Flags().Bool("manual", false, "refresh only on SIGHUP")
	watchCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
}
