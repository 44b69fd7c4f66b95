// Package run implements the run command: it brings up the capture
// controller together with its API, statistics reporter and recorders.
package run

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ipcam/streamworker/internal/api"
	"github.com/ipcam/streamworker/internal/conf"
	"github.com/ipcam/streamworker/internal/consumer"
	"github.com/ipcam/streamworker/internal/errors"
	"github.com/ipcam/streamworker/internal/hal"
	"github.com/ipcam/streamworker/internal/hal/sim"
	"github.com/ipcam/streamworker/internal/lifecycle"
	"github.com/ipcam/streamworker/internal/logger"
	"github.com/ipcam/streamworker/internal/mqtt"
	"github.com/ipcam/streamworker/internal/observability"
	"github.com/ipcam/streamworker/internal/report"
	"github.com/ipcam/streamworker/internal/sched"
	"github.com/ipcam/streamworker/internal/sink"
	"github.com/ipcam/streamworker/internal/worker"
)

// Command creates the run command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start capturing",
		Long:  "Start the capture controller, the HTTP API and the configured consumers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, viper.GetBool("simulate"))
		},
	}

	cmd.Flags().Bool("simulate", false, "Use the simulated capture platform")
	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	cmd.Flags().Bool("paused", false, "Do not start capturing until requested through the API")

	cobra.CheckErr(viper.BindPFlag("simulate", cmd.Flags().Lookup("simulate")))
	cobra.CheckErr(viper.BindPFlag("paused", cmd.Flags().Lookup("paused")))
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if l := cmd.Flags().Lookup("listen"); l.Changed {
			settings.API.Listen = l.Value.String()
		}
	}

	return cmd
}

// Run blocks until SIGINT/SIGTERM or ctx is canceled.
func Run(ctx context.Context, settings *conf.Settings, simulate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return err
	}
	logger.SetGlobal(central)
	defer func() { _ = central.Close() }()
	log := central.Module("main")

	sched.SetEnabled(settings.General.RealtimeScheduling)

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}
	m.CountErrors()

	hw, err := openHardware(settings, simulate, central.Module("hal"))
	if err != nil {
		return err
	}

	cfg, err := workerConfig(settings)
	if err != nil {
		return err
	}

	var pcm *consumer.PCMBuffer
	var audioSink sink.AudioSink = sink.DiscardAudio
	if settings.Audio.Enabled && settings.Audio.RecordPath != "" {
		pcm = consumer.NewPCMBuffer(settings.Audio.RingSize)
		audioSink = pcm
	}

	ctrl, err := worker.NewController(hw, cfg,
		worker.WithLogger(central.Module(worker.ComponentWorker)),
		worker.WithMetrics(m.Capture),
		worker.WithAudioSink(audioSink),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return ctrl.Run(gctx)
	})

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)
	g.Go(func() error {
		return supervise(gctx, ctrl.Signal(), signals, log)
	})

	if settings.API.Enabled {
		srv := api.New(settings.API.Listen, ctrl,
			api.WithLogger(central.Module("api")),
			api.WithMetricsHandler(m.Handler()),
		)
		g.Go(func() error { return srv.Run(gctx) })
	}

	if settings.MQTT.Enabled {
		mc := mqtt.DefaultConfig()
		mc.Broker = settings.MQTT.Broker
		mc.ClientID = settings.MQTT.ClientID
		mc.Username = settings.MQTT.Username
		mc.Password = settings.MQTT.Password
		mc.Retain = settings.MQTT.Retain
		client, err := mqtt.NewClient(mc, m.MQTT, central.Module("mqtt"))
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		reporter := report.New(client, ctrl, settings.MQTT.Topic, settings.MQTT.Interval, central.Module("report"))
		g.Go(func() error { return reporter.Run(gctx) })
	}

	for _, st := range settings.EnabledStreams() {
		if st.RecordPath == "" {
			continue
		}
		w := consumer.NewAnnexBWriter(ctrl.Sink(st.ID), st.RecordPath, central.Module("consumer"))
		g.Go(func() error { return w.Run(gctx) })
	}

	if pcm != nil {
		g.Go(func() error { return recordPCM(gctx, pcm, settings.Audio.RecordPath, central.Module("consumer")) })
	}

	if !viper.GetBool("paused") {
		lifecycle.RequestStart(ctrl.Signal())
	}
	log.Info("streamworker running",
		logger.Int("streams", len(cfg.Streams)),
		logger.Bool("snapshot", cfg.Snapshot != nil),
		logger.Bool("audio", cfg.Audio != nil),
		logger.Bool("simulate", simulate))

	err = g.Wait()
	log.Info("streamworker exited", logger.String("state", ctrl.Signal().Load().String()))
	return err
}

// openHardware returns the capture platform. Only the simulated platform
// is built in; vendor platforms implement hal.Hardware out of tree.
func openHardware(settings *conf.Settings, simulate bool, log logger.Logger) (hal.Hardware, error) {
	if !simulate {
		return nil, errors.Newf("no hardware platform is built in, run with --simulate").
			Component("cmd").
			Category(errors.CategoryHardware).
			Build()
	}
	opts := sim.DefaultOptions()
	opts.FPS = settings.Simulation.FPS
	opts.GOP = settings.Simulation.GOP
	opts.BitrateKbps = settings.Simulation.Bitrate
	opts.JPEGWidth = settings.Simulation.JPEGWidth
	opts.JPEGHeight = settings.Simulation.JPEGHeight
	return sim.New(opts, log.Module("sim")), nil
}

func recordPCM(ctx context.Context, pcm *consumer.PCMBuffer, path string, log logger.Logger) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec // path comes from config
	if err != nil {
		return errors.New(err).
			Component("consumer").
			Category(errors.CategoryFileIO).
			FileContext(path, 0).
			Build()
	}
	defer func() { _ = f.Close() }()
	return pcm.DrainTo(ctx, f, 0, log)
}
