// Command nethercorectl is a thin demo binary wiring the handshake, rollback,
// and audio pieces together over real loopback UDP. It is not part of the
// importable core; it exists to prove the pieces actually fit.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/nethercore-systems/nethercore/internal/audio"
	"github.com/nethercore-systems/nethercore/internal/bootstrap"
	"github.com/nethercore-systems/nethercore/internal/debugapi"
	"github.com/nethercore-systems/nethercore/internal/journal"
	"github.com/nethercore-systems/nethercore/internal/nchs"
	"github.com/nethercore-systems/nethercore/internal/netconfig"
	"github.com/nethercore-systems/nethercore/internal/quality"
	"github.com/nethercore-systems/nethercore/internal/rollback"
	"github.com/nethercore-systems/nethercore/internal/simcore"
	"github.com/nethercore-systems/nethercore/internal/wire"
)

// demoConsoleType and demoRomHash stand in for the real console identity a
// host game would carry; they only need to match between the two demo
// processes.
const (
	demoConsoleType uint8  = 1
	demoRomHash     uint32 = 0x6e657468
)

func main() {
	mode := flag.String("mode", "host", "host | join | sessionfile")
	hostAddr := flag.String("connect", "", "host address to join (join mode)")
	nchsPort := flag.Uint("port", 7777, "NCHS listen port (host mode)")
	sessionFile := flag.String("session-file", "", "path to a pre-negotiated session file (sessionfile mode)")
	name := flag.String("name", "", "display name override (defaults to the saved config)")
	debugAddr := flag.String("debug-addr", ":9090", "debug/metrics HTTP listen address (empty disables)")
	dbPath := flag.String("db", "nethercorectl.db", "session journal SQLite path")
	minPlayers := flag.Uint("min-players", 2, "players required before the host starts the session")
	flag.Parse()

	log := slog.With("component", "nethercorectl")

	cfg := netconfig.Load()
	if *name != "" {
		cfg.DisplayName = *name
	}
	info := wire.PlayerInfo{DisplayName: cfg.DisplayName, AvatarID: cfg.AvatarID, ColorRGB: cfg.ColorRGB}
	identity := wire.NetplayIdentity{ConsoleType: demoConsoleType, TickRate: 60, MaxPlayers: 4, RomHash: demoRomHash}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := journal.Open(*dbPath)
	if err != nil {
		log.Error("failed to open session journal", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	ss, err := negotiateSession(ctx, *mode, *hostAddr, uint16(*nchsPort), *sessionFile, identity, info, cfg.Network, uint8(*minPlayers), log)
	if err != nil {
		log.Error("handshake failed", "err", err)
		os.Exit(1)
	}

	sessionID := journal.NewSessionID()
	store.RecordSessionStart(journal.SessionRecord{
		ID:          sessionID,
		StartedAt:   time.Now(),
		PlayerCount: int(ss.PlayerCount),
		TickRate:    ss.TickRate,
		RandomSeed:  ss.RandomSeed,
	})

	sock, err := bootstrap.BindLocalSocket(ss)
	if err != nil {
		log.Error("failed to bind rollback socket", "err", err)
		os.Exit(1)
	}
	defer sock.Close()

	if err := bootstrap.Handshake(sock, ss, log); err != nil {
		log.Error("rollback bring-up handshake failed", "err", err)
		os.Exit(1)
	}

	ring := audio.NewRing()
	audioHandle := audio.Spawn(ring, 48000, uint32(ss.TickRate))
	defer audioHandle.Stop()

	sim := simcore.NewSimWrapper(simcore.NewCounterGuest())
	sess, err := rollback.NewP2P(sock, ss, sim, audioHandle)
	if err != nil {
		log.Error("failed to start rollback session", "err", err)
		os.Exit(1)
	}

	if err := portaudio.Initialize(); err != nil {
		log.Warn("portaudio unavailable, running without sound output", "err", err)
	} else {
		defer portaudio.Terminate()
		stream, err := portaudio.OpenDefaultStream(0, 2, 48000, 0, func(out []float32) {
			n := ring.Pop(out)
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
			audioHandle.Notify()
		})
		if err != nil {
			log.Warn("failed to open audio output stream", "err", err)
		} else {
			defer stream.Close()
			if err := stream.Start(); err != nil {
				log.Warn("failed to start audio output stream", "err", err)
			} else {
				defer stream.Stop()
			}
		}
	}

	var debugSrv *debugapi.Server
	if *debugAddr != "" {
		debugSrv = debugapi.New(sess, *debugAddr)
		go func() {
			if err := debugSrv.Run(ctx); err != nil {
				log.Warn("debug server exited", "err", err)
			}
		}()
		log.Info("debug surface listening", "addr", *debugAddr)
	}

	runTickLoop(ctx, sess, store, sessionID, ss.RandomSeed, ss.TickRate, log)
}

// negotiateSession dispatches to the live NCHS handshake (host/join) or a
// pre-negotiated session file, returning a SessionStart ready for the
// rollback bring-up handshake.
func negotiateSession(ctx context.Context, mode, connectAddr string, port uint16, sessionFile string, identity wire.NetplayIdentity, info wire.PlayerInfo, netCfg wire.NetworkConfig, minPlayers uint8, log *slog.Logger) (*wire.SessionStart, error) {
	switch mode {
	case "sessionfile":
		if sessionFile == "" {
			return nil, fmt.Errorf("nethercorectl: -session-file is required in sessionfile mode")
		}
		return bootstrap.LoadSessionFile(sessionFile)
	case "join":
		if connectAddr == "" {
			return nil, fmt.Errorf("nethercorectl: -connect is required in join mode")
		}
		return runGuestLobby(ctx, connectAddr, identity, info, log)
	default:
		return runHostLobby(ctx, port, identity, info, netCfg, minPlayers, log)
	}
}

func runHostLobby(ctx context.Context, port uint16, identity wire.NetplayIdentity, info wire.PlayerInfo, netCfg wire.NetworkConfig, minPlayers uint8, log *slog.Logger) (*wire.SessionStart, error) {
	h, err := nchs.NewHost(port, identity, info, netCfg)
	if err != nil {
		return nil, err
	}
	log.Info("hosting lobby", "port", h.Port())

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		ev := h.Poll()
		switch ev.Kind {
		case nchs.HostEventPlayerJoined:
			log.Info("player joined lobby", "handle", ev.PlayerHandle)
		case nchs.HostEventPlayerLeft:
			log.Info("player left lobby", "handle", ev.PlayerHandle)
		case nchs.HostEventPlayerReadyChanged:
			log.Info("player ready changed", "handle", ev.PlayerHandle, "ready", ev.Ready)
		case nchs.HostEventAllReady:
			if h.PlayerCount() < minPlayers {
				continue
			}
			return h.Start()
		case nchs.HostEventReady:
			return ev.SessionStart, nil
		case nchs.HostEventError:
			log.Warn("join attempt rejected", "err", ev.Err)
		}
	}
}

func runGuestLobby(ctx context.Context, addr string, identity wire.NetplayIdentity, info wire.PlayerInfo, log *slog.Logger) (*wire.SessionStart, error) {
	g, err := nchs.NewGuest(addr, identity, info)
	if err != nil {
		return nil, err
	}
	log.Info("joining lobby", "host", addr)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		ev := g.Poll()
		switch ev.Kind {
		case nchs.GuestEventLobbyUpdated:
			if err := g.SetReady(true); err != nil {
				log.Debug("set ready failed", "err", err)
			}
		case nchs.GuestEventReady:
			return ev.SessionStart, nil
		case nchs.GuestEventRejected:
			return nil, fmt.Errorf("nethercorectl: join rejected: %s (%s)", ev.RejectReason, ev.RejectMsg)
		case nchs.GuestEventTimedOut:
			return nil, fmt.Errorf("nethercorectl: join timed out")
		}
	}
}

// runTickLoop drives the rollback session at its configured tick rate until
// ctx is cancelled, feeding a deterministic pseudo-input and tracking
// synthetic network quality since no real measurement exists in this demo.
func runTickLoop(ctx context.Context, sess *rollback.Session, store *journal.Store, sessionID string, seed uint64, tickRate uint16, log *slog.Logger) {
	rnd := rand.New(rand.NewSource(int64(seed)))
	tracker := quality.NewTracker()
	lastVerdict := quality.LevelGood

	if tickRate == 0 {
		tickRate = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		input := []byte{byte(rnd.Intn(3))}
		report, err := sess.Advance(input)
		if err != nil {
			log.Error("session halted", "err", err)
			return
		}

		tracker.Sample(20*time.Millisecond, 2*time.Millisecond, 0)
		if verdict := tracker.Verdict(); verdict != lastVerdict {
			log.Info("network quality changed", "level", verdict)
			lastVerdict = verdict
		}

		for _, ev := range report.Events {
			switch ev.Kind {
			case rollback.EventDesyncAt:
				store.RecordDesync(journal.DesyncRecord{
					SessionID:      sessionID,
					Frame:          ev.Frame,
					LocalChecksum:  ev.LocalChecksum,
					RemoteChecksum: ev.RemoteChecksum,
					Peer:           uint8(ev.Peer),
					RecordedAt:     time.Now(),
				})
				log.Warn("desync detected", "frame", ev.Frame, "peer", ev.Peer)
			case rollback.EventPeerStalling:
				log.Warn("peer stalling", "peer", ev.Peer)
			case rollback.EventPeerDisconnected:
				store.RecordDisconnect(sessionID, uint8(ev.Peer), "timeout")
				log.Warn("peer disconnected", "peer", ev.Peer)
			case rollback.EventPeerLost:
				store.RecordDisconnect(sessionID, uint8(ev.Peer), "lost")
				log.Error("peer lost, session ending", "peer", ev.Peer)
				return
			}
		}

		if report.RolledBack {
			log.Debug("rollback", "from", report.RollbackFrom, "to", report.RollbackTo)
		}
	}
}
