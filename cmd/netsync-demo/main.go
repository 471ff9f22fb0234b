// Demo server and client for netsync. The server moves a few objects in
// circles and replicates them; clients follow them with interpolation.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sessamekesh/netsync/internal/config"
	"github.com/sessamekesh/netsync/pkg/geom"
	"github.com/sessamekesh/netsync/pkg/peer"
	"github.com/sessamekesh/netsync/pkg/replication"
	"github.com/sessamekesh/netsync/pkg/transport"
	"go.uber.org/zap"
)

const (
	frameRate     = 60
	statsInterval = 5 * time.Second
	pingInterval  = 1.0
)

func createLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func main() {
	//
	// Flags, on top of .env and the environment
	envFile := flag.String("env-file", ".env", "Path of an optional .env file")
	mode := flag.String("mode", "", "'server' or 'client', overrides "+config.EnvMode)
	listen := flag.String("listen", "", "Server listen address, overrides "+config.EnvListenAddress)
	url := flag.String("url", "", "Server URL for client mode, overrides "+config.EnvServerUrl)
	name := flag.String("name", "", "Client name sent in the handshake, overrides "+config.EnvClientName)
	sendRate := flag.Int("send-rate", 0, "Updates per second, overrides "+config.EnvSendRate)
	objects := flag.Int("objects", 0, "Number of replicated objects, overrides "+config.EnvObjectCount)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *listen != "" {
		cfg.ListenAddress = *listen
	}
	if *url != "" {
		cfg.ServerUrl = *url
	}
	if *name != "" {
		cfg.ClientName = *name
	}
	if *sendRate > 0 {
		cfg.SendRate = *sendRate
	}
	if *objects > 0 {
		cfg.ObjectCount = *objects
	}

	logger := zap.Must(createLogger(cfg))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Mode {
	case "server":
		err = runServer(ctx, cfg, logger)
	case "client":
		err = runClient(ctx, cfg, logger)
	default:
		err = &config.InvalidValue{Key: config.EnvMode, Value: cfg.Mode, Reason: "must be 'server' or 'client'"}
	}

	if err != nil {
		logger.Error("Exiting with error", zap.Error(err))
		os.Exit(1)
	}
}

func replicationSettings(cfg config.Config) replication.Settings {
	settings := replication.DefaultSettings()
	settings.PositionPrecision = cfg.PositionPrecision
	settings.FullSyncInterval = cfg.SendRate * 5
	return settings
}

// orbit is a demo object moving on a circle around the origin.
type orbit struct {
	radius float64
	speed  float64
	phase  float64
	height float64

	state replication.Transform
}

func (o *orbit) advance(now float64) {
	angle := o.phase + now*o.speed
	o.state.Position = geom.Vector3{
		X: math.Cos(angle) * o.radius,
		Y: o.height,
		Z: math.Sin(angle) * o.radius,
	}
	o.state.Rotation = geom.FromAxisAngle(geom.Vector3{Y: 1}, -angle)
}

func (o *orbit) Construct() replication.Transform {
	return o.state
}

// runFrames calls frame at frameRate until ctx is done.
func runFrames(ctx context.Context, frame func(deltaTime float64)) {
	ticker := time.NewTicker(time.Second / frameRate)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame(now.Sub(last).Seconds())
			last = now
		}
	}
}

func logStats(logger *zap.Logger, d *peer.Diagnostics, connections int) {
	stats := d.Snapshot()
	logger.Info("Traffic",
		zap.Int("connections", connections),
		zap.Int("batchesIn", stats.BatchesIn),
		zap.Int("batchesOut", stats.BatchesOut),
		zap.Int("bytesIn", stats.BytesIn),
		zap.Int("bytesOut", stats.BytesOut),
		zap.Int("invalidIn", stats.InvalidIn),
		zap.Int("unknownIn", stats.UnknownIn),
		zap.Int("rejectedSend", stats.RejectedSend))
}

func runServer(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	wsServer, err := transport.CreateWebsocketServer(transport.WebsocketServerParams{
		ListenAddress:  cfg.ListenAddress,
		ListenEndpoint: cfg.Endpoint,
		AllowAllHosts:  true,
		MaxConnections: cfg.MaxConnections,
		SendRate:       uint16(cfg.SendRate),
		IdleTimeout:    cfg.IdleTimeout,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("creating WebSocket server: %w", err)
	}

	server, err := peer.CreateServer(peer.Params{
		Transport:               wsServer,
		SendRate:                cfg.SendRate,
		PingInterval:            pingInterval,
		SnapshotBufferSizeLimit: cfg.SnapshotBufferSize,
		Logger:                  logger,
	})
	if err != nil {
		return err
	}

	replicator, err := replication.CreateReplicator(replication.ReplicatorParams{
		Host:   server,
		Role:   replication.Role_Server,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	settings := replicationSettings(cfg)
	orbits := make([]*orbit, 0, cfg.ObjectCount)
	for i := 0; i < cfg.ObjectCount; i++ {
		o := &orbit{
			radius: 2 + float64(i),
			speed:  1 / (1 + float64(i)*0.25),
			phase:  float64(i) * math.Pi / 4,
			height: float64(i%3) * 0.5,
			state:  replication.IdentityTransform,
		}
		if _, err := replicator.Add(replication.SyncerParams{NetId: uint32(i + 1), Settings: settings, Source: o}); err != nil {
			return err
		}
		orbits = append(orbits, o)
	}

	server.OnConnected(func(connId uint32) {
		logger.Info("Observer joined", zap.Uint32("connId", connId), zap.Int("observers", len(server.ConnectionIds())))
	})
	server.OnDisconnected(func(connId uint32) {
		logger.Info("Observer left", zap.Uint32("connId", connId))
	})

	if err := server.Start(); err != nil {
		return err
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg := sync.WaitGroup{}
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsServer.Start(serverCtx); err != nil {
			serveErr <- err
			cancel()
		}
	}()

	nextStats := time.Now().Add(statsInterval)
	runFrames(serverCtx, func(deltaTime float64) {
		server.EarlyUpdate(deltaTime)
		for _, o := range orbits {
			o.advance(server.LocalTime())
		}
		server.LateUpdate(deltaTime)

		if time.Now().After(nextStats) {
			nextStats = time.Now().Add(statsInterval)
			logStats(logger, server.Diagnostics(), len(server.ConnectionIds()))
		}
	})

	server.Stop()
	cancel()
	wg.Wait()

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func runClient(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	wsClient, err := transport.DialWebsocket(ctx, transport.WebsocketClientParams{
		Url:    cfg.ServerUrl,
		Name:   cfg.ClientName,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.ServerUrl, err)
	}

	client, err := peer.CreateClient(peer.Params{
		Transport:               wsClient,
		SendRate:                cfg.SendRate,
		PingInterval:            pingInterval,
		SnapshotBufferSizeLimit: cfg.SnapshotBufferSize,
		Timeout:                 cfg.IdleTimeout.Seconds(),
		Logger:                  logger,
	})
	if err != nil {
		return err
	}

	replicator, err := replication.CreateReplicator(replication.ReplicatorParams{
		Host:           client,
		Role:           replication.Role_Client,
		RemoteSendRate: int(wsClient.SendRate()),
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	settings := replicationSettings(cfg)
	latest := make([]replication.Transform, cfg.ObjectCount)
	for i := 0; i < cfg.ObjectCount; i++ {
		slot := i
		target := replication.TransformTargetFunc(func(t replication.Transform) {
			latest[slot] = t
		})
		if _, err := replicator.Add(replication.SyncerParams{NetId: uint32(i + 1), Settings: settings, Target: target}); err != nil {
			return err
		}
	}

	clientCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	client.OnDisconnected(func(connId uint32) {
		logger.Warn("Disconnected from server", zap.Uint32("connId", connId))
		cancel()
	})

	nextStats := time.Now().Add(statsInterval)
	runFrames(clientCtx, func(deltaTime float64) {
		client.EarlyUpdate(deltaTime)
		replicator.Update(deltaTime)
		client.LateUpdate(deltaTime)

		if time.Now().After(nextStats) {
			nextStats = time.Now().Add(statsInterval)
			fields := []zap.Field{}
			if conn, has := client.ServerConnection(); has {
				fields = append(fields, zap.Duration("rtt", time.Duration(conn.Rtt()*float64(time.Second))))
			}
			if len(latest) > 0 {
				fields = append(fields,
					zap.Float64("x", latest[0].Position.X),
					zap.Float64("z", latest[0].Position.Z))
			}
			logger.Info("Following objects", fields...)
			logStats(logger, client.Diagnostics(), 1)
		}
	})

	client.Stop()
	return nil
}
