package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/pulsenative/internal/logger"
	"github.com/alxayo/pulsenative/internal/pulse/auth"
	"github.com/alxayo/pulsenative/internal/pulse/mixer"
	"github.com/alxayo/pulsenative/internal/pulse/protocol"
	"github.com/alxayo/pulsenative/internal/pulse/sampleformat"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// the flag package prints usage for parse errors; validation errors
		// from parseFlags are not printed
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	authOpts, err := buildAuthOptions(cfg)
	if err != nil {
		log.Error("invalid authorization configuration", "error", err)
		os.Exit(2)
	}

	registry := mixer.NewNullRegistry(sampleformat.Spec{Format: sampleformat.FLOAT32LE, Channels: 2, Rate: 44100})

	svc := protocol.New(protocol.Config{
		ListenAddr:      cfg.listenAddr,
		MaxConnections:  cfg.maxConnections,
		Auth:            authOpts,
		ServerName:      "pulsenatived",
		EnableSRB:       cfg.enableSRB,
		RingBufferSize:  uint32(cfg.ringBufferSize),
		HookScripts:     cfg.hookScripts,
		HookWebhooks:    cfg.hookWebhooks,
		HookStdioFormat: cfg.hookStdioFormat,
		HookTimeout:     cfg.hookTimeout,
		HookConcurrency: cfg.hookConcurrency,
	}, registry)

	if err := svc.Start(); err != nil {
		log.Error("failed to start protocol service", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", cfg.listenAddr, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := svc.Stop(); err != nil {
			log.Error("service stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}

// buildAuthOptions translates the CLI's flat flag set into auth.Options,
// resolving the IP ACL and cookie file per spec.md §6.
func buildAuthOptions(cfg *cliConfig) (auth.Options, error) {
	opts := auth.Options{
		AuthAnonymous:    cfg.authAnonymous,
		AuthGroupEnable:  cfg.authGroupEnable,
		AuthGroup:        cfg.authGroup,
		AuthCookieEnable: cfg.authCookie,
		ServerUID:        uint32(os.Getuid()),
	}
	if cfg.authIPACL != "" {
		acl, err := auth.ParseACL(cfg.authIPACL)
		if err != nil {
			return opts, err
		}
		opts.AuthIPACL = acl
	}
	if cfg.authCookie {
		cookie, err := auth.LoadCookie(cfg.cookiePath, "")
		if err != nil {
			return opts, err
		}
		opts.Cookie = cookie
	}
	return opts, nil
}
