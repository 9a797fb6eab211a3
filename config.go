package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Config holds every server setting
type Config struct {
	Addr        string
	ClientDir   string
	PublicURL   string // base for invite links; empty uses the request host
	DBPath      string
	TokenSecret string
	BcryptCost  int
	LogLevel    slog.Level

	MaxRooms        int
	RoomIdleTimeout time.Duration
	ReapInterval    time.Duration
	WorldWidth      int
	CompressAt      int

	MaxConnsPerIP int
	MaxTotalConns int
	MsgRate       float64 // inbound messages per second per connection
	MsgBurst      int

	Bots    int
	BotRoom string
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ClientDir:       "../client",
		DBPath:          ":memory:",
		BcryptCost:      bcrypt.DefaultCost,
		LogLevel:        slog.LevelInfo,
		MaxRooms:        DefaultMaxRooms,
		RoomIdleTimeout: RoomIdleTimeout,
		ReapInterval:    ReapInterval,
		WorldWidth:      DefaultWorldWidth,
		CompressAt:      4096,
		MaxConnsPerIP:   8,
		MaxTotalConns:   1000,
		MsgRate:         120,
		MsgBurst:        60,
	}
}

const envPrefix = "ARENA_"

// LoadConfig layers defaults, an optional .env file, ARENA_* environment
// variables and finally command-line flags.
func LoadConfig(args []string, envFile string) (Config, error) {
	cfg := DefaultConfig()

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}

	fsFlags := flag.NewFlagSet("arena", flag.ContinueOnError)
	fsFlags.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	fsFlags.StringVar(&cfg.ClientDir, "client", cfg.ClientDir, "Path to client directory")
	fsFlags.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Public base URL for invite links")
	fsFlags.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite path for the match log")
	fsFlags.IntVar(&cfg.MaxRooms, "max-rooms", cfg.MaxRooms, "Maximum concurrent rooms")
	fsFlags.DurationVar(&cfg.RoomIdleTimeout, "idle-timeout", cfg.RoomIdleTimeout, "Close empty rooms after this long")
	fsFlags.IntVar(&cfg.WorldWidth, "world-width", cfg.WorldWidth, "Generated world width in blocks")
	fsFlags.IntVar(&cfg.Bots, "bots", cfg.Bots, "Number of headless bot clients to run")
	fsFlags.StringVar(&cfg.BotRoom, "bot-room", cfg.BotRoom, "Room id for bots (empty creates one)")
	level := fsFlags.String("log-level", cfg.LogLevel.String(), "debug, info, warn or error")
	if err := fsFlags.Parse(args); err != nil {
		return cfg, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(*level)); err != nil {
		return cfg, fmt.Errorf("log level %q: %w", *level, err)
	}
	return cfg, nil
}

// applyEnv reads ARENA_* variables through getenv
func (cfg *Config) applyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v := getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &cfg.Addr)
	str("CLIENT_DIR", &cfg.ClientDir)
	str("PUBLIC_URL", &cfg.PublicURL)
	str("DB", &cfg.DBPath)
	str("TOKEN_SECRET", &cfg.TokenSecret)
	str("BOT_ROOM", &cfg.BotRoom)
	num("BCRYPT_COST", &cfg.BcryptCost)
	num("MAX_ROOMS", &cfg.MaxRooms)
	num("WORLD_WIDTH", &cfg.WorldWidth)
	num("COMPRESS_AT", &cfg.CompressAt)
	num("MAX_CONNS_PER_IP", &cfg.MaxConnsPerIP)
	num("MAX_TOTAL_CONNS", &cfg.MaxTotalConns)
	num("MSG_BURST", &cfg.MsgBurst)
	num("BOTS", &cfg.Bots)
	dur("IDLE_TIMEOUT", &cfg.RoomIdleTimeout)
	dur("REAP_INTERVAL", &cfg.ReapInterval)

	if v := getenv(envPrefix + "MSG_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMSG_RATE: %w", envPrefix, err))
		} else {
			cfg.MsgRate = f
		}
	}
	if v := getenv(envPrefix + "LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err))
		}
	}
	return errors.Join(errs...)
}

// RegistryOptions derives registry settings from the config
func (cfg Config) RegistryOptions() RegistryOptions {
	return RegistryOptions{
		MaxRooms:    cfg.MaxRooms,
		IdleTimeout: cfg.RoomIdleTimeout,
		ReapEvery:   cfg.ReapInterval,
		Room: RoomOptions{
			WorldWidth: cfg.WorldWidth,
			CompressAt: cfg.CompressAt,
		},
	}
}
