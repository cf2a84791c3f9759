package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// protocol.Config, so main.go can validate and map.
type cliConfig struct {
	listenAddr      string
	logLevel        string
	maxConnections  int
	showVersion     bool
	authAnonymous   bool
	authGroupEnable bool
	authGroup       string
	authIPACL       string
	authCookie      bool
	cookiePath      string
	enableSRB       bool
	ringBufferSize  uint

	hookScripts     []string
	hookWebhooks    []string
	hookStdioFormat string
	hookTimeout     string
	hookConcurrency int
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("pulsenatived", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var hookScripts stringSliceFlag
	var hookWebhooks stringSliceFlag

	fs.StringVar(&cfg.listenAddr, "listen", "/run/pulse/native", "Listen address: a unix socket path or host:port")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.IntVar(&cfg.maxConnections, "max-connections", 64, "Maximum concurrent client connections")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.BoolVar(&cfg.authAnonymous, "auth-anonymous", false, "Accept every connection without further checks")
	fs.BoolVar(&cfg.authGroupEnable, "auth-group-enable", false, "Authorize peers whose local uid belongs to -auth-group")
	fs.StringVar(&cfg.authGroup, "auth-group", "", "Group name checked when -auth-group-enable is set")
	fs.StringVar(&cfg.authIPACL, "auth-ip-acl", "", "Comma-separated CIDR list of pre-authorized peer addresses")
	fs.BoolVar(&cfg.authCookie, "auth-cookie-enabled", false, "Authorize peers presenting a matching cookie")
	fs.StringVar(&cfg.cookiePath, "cookie", "", "Path to the shared-secret cookie file")

	fs.BoolVar(&cfg.enableSRB, "srbchannel", false, "Offer the shared ring-buffer fast path when negotiated")
	fs.UintVar(&cfg.ringBufferSize, "srbchannel-size", 256*1024, "SRB ring buffer size in bytes")

	fs.Var(&hookScripts, "hook-script", "Hook script in format event_type=script_path (can be specified multiple times)")
	fs.Var(&hookWebhooks, "hook-webhook", "Hook webhook in format event_type=webhook_url (can be specified multiple times)")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.hookScripts = hookScripts
	cfg.hookWebhooks = hookWebhooks

	if cfg.maxConnections <= 0 {
		return nil, errors.New("max-connections must be positive")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.authCookie && cfg.cookiePath == "" {
		return nil, errors.New("-auth-cookie-enabled requires -cookie")
	}
	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return nil, fmt.Errorf("invalid hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}

	return cfg, nil
}

// stringSliceFlag implements flag.Value for multiple string values.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	out := ""
	for i, v := range *s {
		if i > 0 {
			out += ", "
		}
		out += v
	}
	return out
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}
