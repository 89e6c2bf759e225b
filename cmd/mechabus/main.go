// Mechabus Gateway - actuator hub for remote switches and local outputs.
//
// The gateway fronts a fixed set of actuators: HTTP switches on the local
// network and GPIO-driven outputs on the host. Subscribers connect over a
// websocket, authenticate, and share one live view of every actuator.
// An optional uplink joins this gateway to a peer hub.
//
// Usage:
//
//	mechabus                 run the gateway (config from MECHABUS_CONFIG)
//	mechabus hash <secret>   print an argon2id hash for the config file
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/mechabus-gateway/internal/addressmap"
	"github.com/nerrad567/mechabus-gateway/internal/api"
	"github.com/nerrad567/mechabus-gateway/internal/auth"
	"github.com/nerrad567/mechabus-gateway/internal/dispatch"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/config"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/metrics"
	"github.com/nerrad567/mechabus-gateway/internal/infrastructure/mqtt"
	"github.com/nerrad567/mechabus-gateway/internal/provider"
	"github.com/nerrad567/mechabus-gateway/internal/safety"
	"github.com/nerrad567/mechabus-gateway/internal/uplink"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash" {
		if err := runHash(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runHash prints the argon2id PHC string for a password or peer credential.
func runHash(args []string, out io.Writer) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: mechabus hash <password>")
	}
	encoded, err := auth.HashPassword(args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, encoded)
	return err
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled and returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Mechabus gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"gateway", cfg.Gateway.ID,
		"level", cfg.Logging.Level,
	)

	registry, err := buildRegistry(cfg.Providers, log)
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}
	log.Info("provider registry ready", "providers", registry.Len(), "ids", registry.IDs())

	limits, err := safetyLimits(cfg.Providers.Safety, registry)
	if err != nil {
		return fmt.Errorf("configuring safety timers: %w", err)
	}

	prom := metrics.New()

	dispatcher := dispatch.New(registry)
	dispatcher.SetLogger(log.With("component", "dispatch"))
	dispatcher.SetRecorder(prom)

	controller := safety.New(safety.Config{
		Limits:     limits,
		RetryDelay: cfg.Providers.SafetyRetryDelay,
	}, dispatcher)
	controller.SetLogger(log.With("component", "safety"))
	controller.SetRecorder(prom)
	dispatcher.SetObserver(controller)
	defer controller.Close()

	authn, err := auth.New(auth.Config{
		Secret:               cfg.Security.JWT.Secret,
		TTL:                  cfg.GetTokenTTL(),
		Issuer:               cfg.Gateway.ID,
		PasswordHashes:       cfg.Security.PasswordHashes,
		PeerCredentialHashes: cfg.Security.Peer.CredentialHashes,
	})
	if err != nil {
		return fmt.Errorf("configuring authentication: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log.With("component", "hub"), dispatcher, authn)
	hub.SetRecorder(prom)
	controller.SetNotifier(hub)

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT state mirror disabled")
	}

	var link *uplink.Client
	if cfg.Uplink.Enabled {
		link, err = newUplink(cfg.Uplink, hub, prom, log)
		if err != nil {
			return fmt.Errorf("configuring uplink: %w", err)
		}
	}

	deps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Metrics:    cfg.Metrics,
		Logger:     log,
		Hub:        hub,
		Auth:       authn,
		Dispatcher: dispatcher,
		Registry:   registry,
		Pairings:   cfg.Providers.Pairings,
		MQTT:       mqttClient,
		Prometheus: prom,
		Version:    version,
	}
	if link != nil {
		deps.Uplink = link
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if link != nil {
		g.Go(func() error {
			err := link.Run(gctx)
			if errors.Is(err, uplink.ErrDisabled) {
				// The gateway keeps serving local subscribers.
				return nil
			}
			return err
		})
	}

	// Publish a first snapshot to the state mirror.
	hub.Refresh()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		log.Error("uplink stopped with error", "error", err)
	}

	log.Info("Mechabus gateway stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MECHABUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MECHABUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildRegistry assembles the fixed provider set: remote switches from the
// address map and static config, then local actuators. In dev mode remote
// switches and GPIO lines are replaced with in-memory stand-ins.
func buildRegistry(cfg config.ProvidersConfig, log *logging.Logger) (*provider.Registry, error) {
	remotes := make(map[string]string)
	if cfg.AddressMapFile != "" {
		mapped, err := addressmap.Load(cfg.AddressMapFile)
		if err != nil {
			return nil, fmt.Errorf("loading address map: %w", err)
		}
		for id, addr := range mapped {
			remotes[id] = addr
		}
		log.Info("address map loaded", "path", cfg.AddressMapFile, "hosts", len(mapped))
	}
	for id, addr := range cfg.Remote {
		remotes[id] = addr
	}

	providers := make([]provider.Provider, 0, len(remotes)+len(cfg.Local))
	for _, id := range sortedKeys(remotes) {
		if cfg.DevMode.Enabled {
			providers = append(providers, provider.NewMemorySwitch(id, remotes[id], cfg.DevMode.Latency))
			continue
		}
		providers = append(providers, provider.NewRemoteSwitch(id, remotes[id], cfg.RequestTimeout))
	}

	for _, l := range cfg.Local {
		line, err := openLine(l, cfg.DevMode.Enabled)
		if err != nil {
			return nil, fmt.Errorf("local actuator %q: %w", l.ID, err)
		}
		a, err := provider.NewLocalActuator(l.ID, line, l.ActiveLow)
		if err != nil {
			return nil, err
		}
		providers = append(providers, a)
	}

	if cfg.DevMode.Enabled {
		log.Warn("dev mode: actuators are simulated in memory", "latency", cfg.DevMode.Latency)
	}

	return provider.NewRegistry(providers...)
}

func openLine(l config.LocalActuatorConfig, dev bool) (provider.Line, error) {
	if !dev {
		return provider.OpenGPIOLine(l.Line)
	}
	line := &provider.MemoryLine{}
	// Start released, i.e. off.
	//nolint:errcheck // MemoryLine.Out never fails
	line.Out(l.ActiveLow)
	return line, nil
}

// safetyLimits turns the safety table into controller limits. Every entry
// must name a registered provider.
func safetyLimits(timers []config.SafetyTimerConfig, registry *provider.Registry) (map[string]time.Duration, error) {
	limits := make(map[string]time.Duration, len(timers))
	for _, t := range timers {
		if _, err := registry.Resolve(t.ID); err != nil {
			return nil, err
		}
		limits[t.ID] = t.MaxOn
	}
	return limits, nil
}

func newUplink(cfg config.UplinkConfig, hub *api.Hub, prom *metrics.Metrics, log *logging.Logger) (*uplink.Client, error) {
	ucfg, err := uplink.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	link, err := uplink.New(ucfg, hub)
	if err != nil {
		return nil, err
	}
	link.SetLogger(log.With("component", "uplink"))
	link.SetRecorder(prom)
	log.Info("uplink configured", "url", cfg.URL)
	return link, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
