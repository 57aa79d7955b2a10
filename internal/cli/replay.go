package cli

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pechy/suricata/internal/config"
	"github.com/pechy/suricata/internal/decode"
	"github.com/pechy/suricata/internal/engine"
	"github.com/pechy/suricata/internal/logging"
	"github.com/pechy/suricata/internal/metrics"
	"github.com/pechy/suricata/internal/output"
	"github.com/pechy/suricata/internal/output/eve"
	"github.com/pechy/suricata/internal/output/flowstart"
)

func replayCmd() *cobra.Command {
	var configFile string
	var flows int
	var packetsPerFlow int
	var workers int

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Drive synthetic flows through the configured output modules",
		Long: `Builds the output modules from config, then plays synthetic flows through
them the way the capture pipeline would: one worker per lane, condition
checked per packet, per-thread scratch state, shared sink.

Examples:
  suricata replay --config suricata.yaml
  suricata replay --flows 1000 --workers 4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg *config.Config
			var err error
			if configFile != "" {
				cfg, err = config.Load(configFile)
				if err != nil {
					return fmt.Errorf("loading config: %w", err)
				}
			} else {
				cfg = config.Defaults()
			}

			if flows <= 0 || packetsPerFlow <= 0 || workers <= 0 {
				return fmt.Errorf("flows, packets-per-flow, and workers must be positive")
			}

			return runReplay(cmd, cfg, flows, packetsPerFlow, workers)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (built-in defaults when empty)")
	cmd.Flags().IntVar(&flows, "flows", 100, "number of synthetic flows")
	cmd.Flags().IntVar(&packetsPerFlow, "packets-per-flow", 4, "packets played per flow")
	cmd.Flags().IntVar(&workers, "workers", 2, "worker threads (packet lanes)")

	return cmd
}

func runReplay(cmd *cobra.Command, cfg *config.Config, flows, packetsPerFlow, workers int) error {
	log := logging.New(cfg.Logging.Format, cfg.Logging.Level)

	var mode engine.Mode
	mode.SetInline(cfg.Inline())

	mt := metrics.New()
	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mt.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	sensor := cfg.SensorName
	if sensor == "" {
		sensor = uuid.NewString()
	}

	reg := output.NewRegistry()
	mod := flowstart.New(
		flowstart.WithInlineCheck(mode.InlineFunc()),
		flowstart.WithHeaderFunc(eve.NewHeaderFunc(sensor)),
		flowstart.WithMetrics(mt),
		flowstart.WithLogger(log),
	)
	if err := mod.Register(reg); err != nil {
		return err
	}

	active, cleanup, err := buildActiveLoggers(cfg, reg, log)
	if err != nil {
		return err
	}

	start := time.Now()
	playErr := playFlows(active, flows, packetsPerFlow, workers)

	// Shutdown ordering per the host contract: workers are already closed
	// inside playFlows; contexts go down only now, after delivery stopped.
	cleanup()

	if playErr != nil {
		return playErr
	}

	log.Info().
		Int("flows", flows).
		Int("packets", flows*packetsPerFlow).
		Dur("elapsed", time.Since(start)).
		Msg("replay finished")
	cmd.Printf("replayed %d flows (%d packets) across %d workers\n",
		flows, flows*packetsPerFlow, workers)
	return nil
}

// buildActiveLoggers constructs logger contexts per the config: the eve-log
// sub-module when the multiplexer lists flow_start, the standalone logger
// when its own output is enabled, and a no-op module when neither is active.
// The returned cleanup closes contexts in dependency order: borrowing
// contexts first, then the parent that owns the shared sink.
func buildActiveLoggers(cfg *config.Config, reg *output.Registry, log zerolog.Logger) ([]output.RunningLogger, func(), error) {
	var active []output.RunningLogger
	var closers []func()

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if eveTypesInclude(cfg, flowstart.EventType) {
		node := cfg.Output(config.EveLogKey)

		sink, err := eve.NewFileSink(node.Filename,
			eve.WithBufferSize(node.BufferSize),
			eve.WithLogger(log),
			eve.WithFlushInterval(time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("opening eve-log output: %w", err)
		}
		eveCtx := eve.NewCtx(sink)
		closers = append(closers, func() { _ = eveCtx.Close() })

		if node.RotateReopen {
			watcher := eve.NewRotationWatcher(sink, log)
			watchCtx, cancel := context.WithCancel(context.Background())
			go func() {
				if err := watcher.Start(watchCtx); err != nil {
					log.Warn().Err(err).Msg("rotation watcher stopped")
				}
			}()
			closers = append(closers, func() {
				cancel()
				watcher.Close()
			})
		}

		sub, ok := reg.Lookup(flowstart.SubModuleKey)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("module %s not registered", flowstart.SubModuleKey)
		}
		subCtx, err := sub.NewSubContext(node, eveCtx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		// Cleanup runs in reverse, so the borrowing context closes before
		// the parent that owns the sink.
		closers = append(closers, func() { _ = subCtx.Close() })
		active = append(active, output.RunningLogger{Module: sub, Ctx: subCtx})
	}

	if node := cfg.Output(config.FlowStartStandaloneKey); node != nil && node.Enabled {
		standalone, ok := reg.Lookup(config.FlowStartStandaloneKey)
		if !ok {
			cleanup()
			return nil, nil, fmt.Errorf("module %s not registered", config.FlowStartStandaloneKey)
		}
		ctx, err := standalone.NewContext(node)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = ctx.Close() })
		active = append(active, output.RunningLogger{Module: standalone, Ctx: ctx})
	}

	if len(active) == 0 {
		// No output enabled: run the same pipeline against a no-op module
		// so the host wiring stays identical.
		nop := output.NewNopModule(flowstart.ModuleName, config.FlowStartStandaloneKey, "")
		ctx, err := nop.NewContext(nil)
		if err != nil {
			return nil, nil, err
		}
		active = append(active, output.RunningLogger{Module: nop, Ctx: ctx})
	}

	return active, cleanup, nil
}

func eveTypesInclude(cfg *config.Config, typ string) bool {
	for _, t := range cfg.EveTypes() {
		if t == typ {
			return true
		}
	}
	return false
}

// playFlows spreads flows across workers. Each worker owns its lane: its own
// thread state, its own flows, no sharing.
func playFlows(active []output.RunningLogger, flows, packetsPerFlow, workers int) error {
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(lane int) {
			defer wg.Done()
			errs[lane] = runLane(active, lane, workers, flows, packetsPerFlow)
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func runLane(active []output.RunningLogger, lane, workers, flows, packetsPerFlow int) error {
	worker, err := output.NewWorker(active)
	if err != nil {
		return err
	}
	defer func() { _ = worker.Close() }()

	srcIP := netip.AddrFrom4([4]byte{10, 0, byte(lane), 1})
	dstIP := netip.AddrFrom4([4]byte{192, 0, 2, 1})

	for i := lane; i < flows; i += workers {
		tuple := decode.FiveTuple{
			SrcIP:   srcIP,
			DstIP:   dstIP,
			SrcPort: uint16(1024 + i),
			DstPort: 443,
			Proto:   6,
		}
		flow := decode.NewFlow(tuple)

		for n := 0; n < packetsPerFlow; n++ {
			// Alternate directions the way the flow tracker counts them.
			if n%2 == 0 {
				flow.ToDstPktCnt++
			} else {
				flow.ToSrcPktCnt++
			}
			p := &decode.Packet{
				Timestamp: time.Now(),
				Tuple:     tuple,
				Flow:      flow,
			}
			if err := worker.HandlePacket(p); err != nil {
				return err
			}
		}
	}
	return nil
}
