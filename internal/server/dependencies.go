package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisfleet/sentinel/internal/alertqueue"
	"github.com/aegisfleet/sentinel/internal/bus"
	"github.com/aegisfleet/sentinel/internal/circuit"
	"github.com/aegisfleet/sentinel/internal/config"
	"github.com/aegisfleet/sentinel/internal/detection"
	"github.com/aegisfleet/sentinel/internal/dispatch"
	"github.com/aegisfleet/sentinel/internal/domain"
	"github.com/aegisfleet/sentinel/internal/fanout"
	"github.com/aegisfleet/sentinel/internal/kalman"
	"github.com/aegisfleet/sentinel/internal/mavlink"
	"github.com/aegisfleet/sentinel/internal/metrics"
	"github.com/aegisfleet/sentinel/internal/planner"
	"github.com/aegisfleet/sentinel/internal/registry"
	"github.com/aegisfleet/sentinel/internal/scheduler"
	"github.com/aegisfleet/sentinel/internal/store"
	"github.com/aegisfleet/sentinel/internal/telemetry"
	"github.com/aegisfleet/sentinel/internal/uavagent"
)

// Dependencies holds every component the four core subsystems are built
// from, constructed once at startup and shared by Server and by the
// background workers main.go starts.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Store    store.Store
	Bus      bus.Bus
	Registry *registry.Registry
	Tiles    *registry.TileIndex
	Queue    *alertqueue.Queue
	Hub      *fanout.Hub
	Tracker  *kalman.Tracker
	Metrics  *metrics.Metrics

	Scheduler *scheduler.Scheduler
	Dispatch  *dispatch.Dispatcher
	Alerts    *alertqueue.Ingestor
	Telemetry *telemetry.Ingestor
	Detection *detection.Ingestor

	agentsMu sync.Mutex
	agents   []uavagent.Agent
}

// NewDependencies wires every component listed above: satellite alerts
// land in Queue, Scheduler matches them against Registry snapshots and
// hands off to Dispatch, which publishes over Bus to the UAV agents;
// Telemetry and Detection ingestors consume the other side and feed
// Registry, Tracker and Hub.
func NewDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	st, err := store.Open(cfg.Store.SQLitePath)
	if err != nil {
		return nil, domain.FatalErr("server.NewDependencies", fmt.Errorf("open store: %w", err))
	}

	b, err := buildBus(cfg.Bus, logger)
	if err != nil {
		return nil, domain.FatalErr("server.NewDependencies", fmt.Errorf("build bus: %w", err))
	}

	reg := registry.New(st)
	hub := fanout.New(fanout.Config{
		MailboxCapacity:  cfg.Fanout.MailboxCapacity,
		MaxBackpressured: cfg.Fanout.MaxBackpressured,
		HeartbeatTimeout: cfg.Fanout.HeartbeatTimeout,
	}, nil, logger)

	ctx := context.Background()
	tiles, err := st.LoadTiles(ctx)
	if err != nil {
		logger.Warn("tile load failed, starting with an empty tile index", zap.Error(err))
	}
	tileIndex := registry.NewTileIndex(tiles)

	queue := alertqueue.New(cfg.Scheduler.QueueCapacity)
	alertIngestor := alertqueue.NewIngestor(queue, st, uuid.NewString, logger)
	if openAlerts, err := st.LoadOpenAlerts(ctx); err != nil {
		logger.Warn("open-alert recovery failed", zap.Error(err))
	} else {
		alertIngestor.SeedSequence(openAlerts)
		for _, a := range openAlerts {
			if err := queue.Offer(a); err != nil {
				logger.Warn("dropping alert during recovery, queue full", zap.String("alert_id", a.ID), zap.Error(err))
			}
		}
	}

	tracker := kalman.NewTracker(kalman.Filter{
		ProcessVar:     cfg.Kalman.ProcessNoiseIntensity,
		MeasurementVar: cfg.Kalman.MeasurementVariance,
	}, cfg.Kalman.GateSq, cfg.Kalman.MaxMisses)

	dispatcher := dispatch.New(dispatch.Config{
		CommandPublishTimeout:  cfg.Dispatch.CommandPublishTimeout,
		MinWatchdog:            cfg.Dispatch.MinWatchdog,
		MaxWatchdog:            cfg.Dispatch.MaxWatchdog,
		DefaultEstimate:        cfg.Dispatch.DefaultEstimate,
		MaxDemotions:           cfg.Dispatch.MaxDemotions,
		CoverageRadiusMeters:   cfg.Dispatch.CoverageRadiusMeters,
		CoverageSpacingMeters:  cfg.Dispatch.CoverageSpacingMeters,
		ArrivalToleranceMeters: cfg.Dispatch.ArrivalToleranceMeters,
		TurnRadiusMeters:       cfg.Dispatch.TurnRadiusMeters,
		RouteCellMeters:        cfg.Dispatch.RouteCellMeters,
	}, b, st, st, reg, queue, logger)
	dispatcher.SetBroadcaster(hub)

	sched := scheduler.New(scheduler.Config{
		TickInterval:     cfg.Scheduler.TickInterval,
		FastPathSeverity: domain.AlertSeverity(cfg.Scheduler.FastPathSeverity),
		PollBatch:        cfg.Scheduler.PollBatch,
		MinBattery:       cfg.Scheduler.MinBattery,
		AlertTTL:         cfg.Scheduler.AlertTTL,
	}, queue, reg, tileIndex, st, st, dispatcher, uuid.NewString, logger)
	sched.SetBroadcaster(hub)
	alertIngestor.SetNotifier(sched)
	alertIngestor.SetBroadcaster(hub)

	telemetryIngestor := telemetry.New(telemetry.Config{
		RateLimitHz: cfg.Telemetry.RateLimitHz,
	}, reg, st, dispatcher, logger)
	telemetryIngestor.SetBroadcaster(hub)

	detectionIngestor := detection.New(detection.Config{
		BroadcastConfidenceFloor: cfg.Detection.BroadcastConfidenceFloor,
	}, st, tracker, hub, reg, uuid.NewString, logger)

	met := metrics.New(prometheus.DefaultRegisterer)
	sched.SetMetrics(met.SchedulerTickDuration, met.AlertQueueDepth)
	dispatcher.SetMetrics(met.ActiveMissions, met.WatchdogTimeouts, met.UAVDemotions)
	hub.SetMetrics(met.FanoutSubscribers)
	detectionIngestor.SetMetrics(met.DetectionsIngested)

	return &Dependencies{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Bus:       b,
		Registry:  reg,
		Tiles:     tileIndex,
		Queue:     queue,
		Hub:       hub,
		Tracker:   tracker,
		Metrics:   met,
		Scheduler: sched,
		Dispatch:  dispatcher,
		Alerts:    alertIngestor,
		Telemetry: telemetryIngestor,
		Detection: detectionIngestor,
	}, nil
}

func buildBus(cfg config.BusConfig, logger *zap.Logger) (bus.Bus, error) {
	if cfg.Driver != "redis" {
		return bus.NewLocal(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	breaker := circuit.New(circuit.DefaultPolicy("bus.redis"), logger)
	return bus.NewRedis(client, breaker, logger, cfg.RedisFallbackQueue), nil
}

// LoadFleet seeds the registry from the configured YAML fleet file and
// builds one UAV agent per entry: a Simulated motion model by default,
// or a MAVLink-backed Real agent when the seed names agent_mode:
// mavlink. Agents are not started here; StartAgents does that once the
// ingest workers are already subscribed.
func (d *Dependencies) LoadFleet() error {
	fleet, err := config.LoadFleet(d.Config.Fleet.SeedPath)
	if err != nil {
		return domain.FatalErr("server.LoadFleet", err)
	}

	if len(fleet.NoFlyZones) > 0 {
		zones := make([]planner.NoFlyZone, len(fleet.NoFlyZones))
		for i, z := range fleet.NoFlyZones {
			zones[i] = planner.NoFlyZone{Lat: z.Lat, Lon: z.Lon, RadiusMeters: z.RadiusMeters}
		}
		d.Dispatch.SetNoFlyZones(zones)
	}

	for _, seed := range fleet.UAVs {
		home := domain.Position{Lat: seed.HomeLat, Lon: seed.HomeLon, Alt: seed.HomeAlt}
		mode := seed.AgentMode
		if mode == "" {
			mode = "simulated"
		}

		d.Registry.Register(domain.UAV{
			ID: seed.ID, Name: seed.Name, Position: home,
			Battery: 100, Status: domain.UAVAvailable, AgentMode: mode,
			LastSeen: time.Now(),
		})

		var agent uavagent.Agent
		switch mode {
		case "mavlink":
			link, err := mavlink.Dial(mavlink.Config{
				Port: seed.Connection.Port, BaudRate: seed.Connection.BaudRate,
			}, d.Logger.With(zap.String("uav_id", seed.ID)))
			if err != nil {
				d.Logger.Warn("mavlink dial failed, skipping agent", zap.String("uav_id", seed.ID), zap.Error(err))
				continue
			}
			go func(id string) {
				if err := link.WaitForHeartbeat(30 * time.Second); err != nil {
					d.Logger.Warn("vehicle not heard from yet", zap.String("uav_id", id), zap.Error(err))
				}
			}(seed.ID)
			agent = uavagent.NewReal(seed.ID, link, d.Bus, d.Logger)
		default:
			agent = uavagent.NewSimulated(seed.ID, home, uavagent.DefaultSimulatedConfig(), d.Bus, d.Logger)
		}

		d.agentsMu.Lock()
		d.agents = append(d.agents, agent)
		d.agentsMu.Unlock()
	}
	return nil
}

// StartAgents subscribes every loaded agent to its command topic and
// starts its tick loop; it returns a function that cancels every
// subscription and ticker started.
func (d *Dependencies) StartAgents(ctx context.Context) (func(), error) {
	d.agentsMu.Lock()
	agents := append([]uavagent.Agent(nil), d.agents...)
	d.agentsMu.Unlock()

	var unsubs []func()
	for _, agent := range agents {
		unsub, err := uavagent.Subscribe(ctx, d.Bus, agent, d.Logger)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return nil, err
		}
		unsubs = append(unsubs, unsub)

		agentCtx, cancel := context.WithCancel(ctx)
		unsubs = append(unsubs, cancel)
		go uavagent.RunTicker(agentCtx, agent, d.Config.Fleet.TickInterval)
	}

	return func() {
		for _, u := range unsubs {
			u()
		}
	}, nil
}

// StartTrackerLoop runs the Kalman tracker's predict/evict cycle on
// cfg.Kalman.PredictInterval until ctx is cancelled. Detections feed
// Observe directly from the detection ingestor; this loop is the other
// half of track lifecycle management, advancing every track's belief
// between observations and evicting ones that have gone quiet.
func (d *Dependencies) StartTrackerLoop(ctx context.Context) {
	interval := d.Config.Kalman.PredictInterval
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.Tracker.Predict(interval.Seconds())
			removed := d.Tracker.Evict(now)
			for _, id := range removed {
				d.Logger.Debug("track evicted", zap.String("track_id", id))
			}
		}
	}
}

// Close releases the bus and store connections.
func (d *Dependencies) Close() error {
	var firstErr error
	if err := d.Bus.Close(); err != nil {
		firstErr = err
	}
	if err := d.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
