package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	shutdownGrace = 5 * time.Second
	botStagger    = 500 * time.Millisecond // stays under the per-IP connect rate
)

func main() {
	cfg, err := LoadConfig(os.Args[1:], ".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	cfg.ClientDir = resolveClientDir(cfg.ClientDir)

	db, err := OpenDB(cfg.DBPath, logger)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	analytics := NewAnalytics(db, logger)
	auth := NewAuth(cfg.TokenSecret, cfg.BcryptCost)
	if cfg.TokenSecret == "" {
		logger.Warn("no token secret configured, identities reset on restart")
	}

	rooms := NewRegistry(cfg.RegistryOptions(), auth, logger, analytics)
	go rooms.Run()

	hubStop := make(chan struct{})
	hub := NewHub(cfg, rooms, auth, db, analytics, logger)
	go hub.Run(hubStop)

	mux := SetupRoutes(hub, cfg.ClientDir)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Addr, "err", err)
		os.Exit(1)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("server starting", "addr", ln.Addr().String(), "client", cfg.ClientDir, "db", cfg.DBPath)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "err", err)
			os.Exit(1)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bots sync.WaitGroup
	if cfg.Bots > 0 {
		startBots(ctx, &bots, cfg, rooms, ln.Addr(), logger)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownGrace)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	bots.Wait()
	rooms.Stop()
	close(hubStop)
	analytics.Stop()
	if err := db.Close(); err != nil {
		logger.Warn("close database", "err", err)
	}
}

// resolveClientDir prefers a client directory next to the executable and
// falls back to dir for development
func resolveClientDir(dir string) string {
	if dir != DefaultConfig().ClientDir {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return dir
	}
	candidate := filepath.Join(filepath.Dir(exe), "..", "client")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return dir
}

// startBots launches cfg.Bots headless clients against this server. Without
// a configured room they share a fresh one.
func startBots(ctx context.Context, wg *sync.WaitGroup, cfg Config, rooms *Registry, addr net.Addr, logger *slog.Logger) {
	roomID := cfg.BotRoom
	if roomID == "" {
		room, err := rooms.CreateRoom("bots", CreateRoomMsg{MaxPlayers: cfg.Bots + DefaultMaxPlayers})
		if err != nil {
			logger.Error("create bot room", "err", err)
			return
		}
		roomID = room.ID
	}

	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)

	for i := 0; i < cfg.Bots; i++ {
		bot := NewBot(url, fmt.Sprintf("Bot_%d", i+1), roomID, logger, time.Now().UnixNano()+int64(i))
		delay := time.Duration(i) * botStagger
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			if err := bot.Run(ctx); err != nil {
				logger.Warn("bot stopped", "bot", bot.Name, "err", err)
			}
		}()
	}
	logger.Info("bots started", "count", cfg.Bots, "room", roomID)
}
