// Package main implements the entry point for the AquaPilot controller.
// AquaPilot is an autonomic control loop for water distribution
// networks: it monitors field telemetry, analyzes the system state,
// plans corrective actions, executes them against legacy SCADA and
// device controllers, and archives every cycle in its knowledge base.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/hydroworks/aquapilot/adapter"
	"github.com/hydroworks/aquapilot/analyzer"
	"github.com/hydroworks/aquapilot/command"
	"github.com/hydroworks/aquapilot/config"
	"github.com/hydroworks/aquapilot/eventbus"
	"github.com/hydroworks/aquapilot/executor"
	"github.com/hydroworks/aquapilot/gateway"
	"github.com/hydroworks/aquapilot/knowledge"
	"github.com/hydroworks/aquapilot/metric"
	"github.com/hydroworks/aquapilot/pipeline"
	"github.com/hydroworks/aquapilot/planner"
	"github.com/hydroworks/aquapilot/types"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "aquapilot"
)

// optimizationCadence is how many healthy cycles pass between
// optimization runs.
const optimizationCadence = 10

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting AquaPilot",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"pipeline", cfg.Loop.DefaultPipeline,
		"interval", cfg.Loop.Interval)

	signalCtx, signalCancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = server.Stop() }()
		slog.Info("Metrics server listening", "address", server.Address(), "path", cfg.Metrics.Path)
	}

	store, thresholds, plans, archive, err := setupKnowledge(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, closeBus, err := setupEventBus(cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer closeBus()

	manager, err := setupAdapters(signalCtx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		manager.DisconnectAll(ctx)
	}()

	gw := gateway.New(cfg.Gateway.StaleAfter, cfg.Gateway.HistoryPerUnit, logger, metrics)

	actuator := adapter.NewFieldActuator(manager, gw, actuatorReadback(), logger)
	factory := command.NewFactory(actuator, actuator, logger,
		command.WithBoundsSource(thresholds.Get))
	invoker := command.NewInvoker(cfg.Executor.CommandHistoryLimit, logger, metrics)

	dispatcher := executor.New(cfg.Executor, cfg.Executor.Endpoints,
		cfg.Executor.FallbackEndpoint, logger, metrics)

	scenario := scenarioProvider(cfg.Analyzer.DefaultScenario)
	scn := analyzer.New(logger, metrics)
	pln := planner.New(plans, logger)
	recommender := planner.NewSetpointRecommender(planner.DefaultSetpointRules(), logger)

	orch := pipeline.NewOrchestrator(100, logger)
	orch.Register(pipeline.NewStandard(pipeline.StandardDeps{
		Source:   manager,
		Gateway:  gw,
		Analyzer: scn,
		Scenario: scenario,
		Planner:  pln,
		Factory:  factory,
		Invoker:  invoker,
		Archive:  archive,
		Bus:      bus,
		Logger:   logger,
		Metrics:  metrics,
	}, pipeline.WithMaxRetries(cfg.Loop.MaxStageRetries)))
	orch.Register(pipeline.NewEmergency(pipeline.EmergencyDeps{
		Source:     manager,
		Gateway:    gw,
		Analyzer:   scn,
		Scenario:   scenario,
		Dispatcher: dispatcher,
		Archive:    archive,
		Bus:        bus,
		Logger:     logger,
		Metrics:    metrics,
	}))
	orch.Register(pipeline.NewOptimization(pipeline.OptimizationDeps{
		Source:      manager,
		Gateway:     gw,
		Analyzer:    scn,
		Scenario:    scenario,
		Recommender: recommender,
		Dispatcher:  dispatcher,
		Archive:     archive,
		Bus:         bus,
		Logger:      logger,
		Metrics:     metrics,
	}))

	loop := pipeline.NewLoop(orch, cfg.Loop.DefaultPipeline, cfg.Loop.Interval, logger,
		pipeline.WithEmergencyPipeline("emergency"),
		pipeline.WithOptimizationPipeline("optimization", optimizationCadence))

	slog.Info("AquaPilot started", "pipelines", orch.Names())

	err = loop.Run(signalCtx)
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return fmt.Errorf("control loop: %w", err)
	}

	slog.Info("AquaPilot shutdown complete")
	return nil
}

// loadConfig loads the file when a path is given, otherwise falls back
// to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Info("No config file given, using built-in defaults")
		return config.Default(), nil
	}
	return config.Load(path)
}

// setupKnowledge opens the knowledge base, migrates the schema, seeds
// empty tables and builds the repositories.
func setupKnowledge(ctx context.Context, cfg *config.Config, logger *slog.Logger) (
	*knowledge.Store, *knowledge.ThresholdRepository, *knowledge.PlanRepository,
	*knowledge.CycleArchive, error) {

	store, err := knowledge.Open(cfg.Knowledge.Driver, cfg.Knowledge.DSN, logger)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open knowledge base: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate knowledge base: %w", err)
	}
	if err := knowledge.SeedDefaults(ctx, store, logger); err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("seed knowledge base: %w", err)
	}

	thresholds := knowledge.NewThresholdRepository(store, cfg.Knowledge.CacheTTL, logger)
	plans := knowledge.NewPlanRepository(store, logger)
	archive := knowledge.NewCycleArchive(store, logger)
	return store, thresholds, plans, archive, nil
}

// setupEventBus builds the bus with the standard observers and, when
// enabled, the NATS bridge that mirrors events onto the message broker.
func setupEventBus(cfg *config.Config, logger *slog.Logger, metrics *metric.Metrics) (
	*eventbus.Bus, func(), error) {

	bus := eventbus.New(cfg.EventBus.HistorySize, logger, metrics)
	bus.Subscribe(eventbus.NewAlertObserver("alert-log", logger), eventbus.EventAlert)
	bus.Subscribe(eventbus.NewStateObserver("state-tracker"), eventbus.EventStateChange)

	closeBus := func() {}
	if cfg.NATS.Enabled {
		bridge, err := eventbus.NewNATSBridge("nats-bridge", eventbus.NATSBridgeConfig{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect NATS bridge: %w", err)
		}
		bus.Subscribe(bridge,
			eventbus.EventSensorData, eventbus.EventStateChange,
			eventbus.EventAction, eventbus.EventAlert)
		closeBus = func() { bridge.Close() }
		slog.Info("NATS bridge connected", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}
	return bus, closeBus, nil
}

// setupAdapters builds one adapter per configured legacy system and
// connects them all. Individual connection failures are tolerated; the
// manager retries on the next read. Having no system connected at all
// is fatal only when systems were configured.
func setupAdapters(ctx context.Context, cfg *config.Config, logger *slog.Logger,
	metrics *metric.Metrics) (*adapter.IntegrationManager, error) {

	manager := adapter.NewIntegrationManager(logger, metrics)

	for _, ac := range cfg.Adapters.Systems {
		system, err := buildLegacySystem(ac, cfg, logger)
		if err != nil {
			return nil, err
		}
		a := adapter.New(ac.Name, system,
			adapter.WaterNetworkSensors(), adapter.WaterNetworkCommands(), logger, metrics)
		if err := manager.AddSystem(ac.Name, a, ac.Priority); err != nil {
			return nil, fmt.Errorf("register adapter %s: %w", ac.Name, err)
		}
	}

	connected := 0
	for name, err := range manager.ConnectAll(ctx) {
		if err != nil {
			slog.Warn("legacy system unreachable at startup", "system", name, "error", err)
			continue
		}
		connected++
	}
	if len(cfg.Adapters.Systems) > 0 && connected == 0 {
		slog.Warn("no legacy system reachable, cycles will run without telemetry")
	}
	return manager, nil
}

// buildLegacySystem constructs the protocol driver for one configured
// system. For csvfile systems the address holds "input;output" paths;
// a single path reuses it with a .out suffix for commands.
func buildLegacySystem(ac config.AdapterConfig, cfg *config.Config,
	logger *slog.Logger) (adapter.LegacySystem, error) {

	switch ac.Protocol {
	case "modbus":
		return adapter.NewModbusSystem(ac.Address, 1, ac.Timeout,
			adapter.WaterNetworkRegisters(), logger), nil
	case "soap":
		return adapter.NewSOAPSystem(ac.Address,
			os.Getenv("AQUAPILOT_SOAP_USERNAME"), os.Getenv("AQUAPILOT_SOAP_PASSWORD"),
			nil, logger), nil
	case "csvfile":
		input, output := ac.Address, ac.Address+".out"
		if in, out, found := strings.Cut(ac.Address, ";"); found {
			input, output = in, out
		}
		return adapter.NewCSVFileSystem(input, output, logger), nil
	case "mqtt":
		broker := ac.Address
		if broker == "" {
			broker = cfg.MQTT.Broker
		}
		return adapter.NewMQTTSystem(adapter.MQTTSystemConfig{
			Broker:       broker,
			ClientID:     cfg.MQTT.ClientID,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			Topic:        cfg.MQTT.Topic,
			CommandTopic: strings.TrimSuffix(cfg.MQTT.Topic, "/#") + "/commands",
			QoS:          cfg.MQTT.QoS,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown adapter protocol %q for system %s", ac.Protocol, ac.Name)
	}
}

// actuatorReadback maps component parameters onto the sensors that
// measure them, so adjustments read live values instead of stale
// setpoints.
func actuatorReadback() map[string]string {
	return map[string]string{
		"main_pump/pressure":   "pressure_01",
		"main_valve/flow_rate": "flow_01",
	}
}

// scenarioProvider returns the analysis context builder. A fixed
// scenario comes from configuration; "auto" re-selects the scenario
// each cycle from the operational rule. System load is estimated from
// the time of day, with morning and evening demand peaks.
func scenarioProvider(name string) func() types.AnalysisContext {
	fixed := types.ScenarioNormalOperation
	switch name {
	case string(types.ScenarioPeakDemand):
		fixed = types.ScenarioPeakDemand
	case string(types.ScenarioEmergencyResponse):
		fixed = types.ScenarioEmergencyResponse
	case string(types.ScenarioDroughtConditions):
		fixed = types.ScenarioDroughtConditions
	}

	return func() types.AnalysisContext {
		now := time.Now()
		load := 50.0
		if hour := now.Hour(); (hour >= 6 && hour < 9) || (hour >= 17 && hour < 21) {
			load = 85.0
		}
		scenario := fixed
		if name == "auto" {
			scenario = types.RecommendScenario(false, 0, load)
		}
		return types.AnalysisContext{
			Scenario:   scenario,
			TimeOfDay:  now.Format("15:04"),
			SystemLoad: load,
		}
	}
}
