package protocol

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alxayo/pulsenative/internal/pulse/hooks"
)

// registerConfiguredHooks wires shell and webhook hooks from Config's
// event_type=value pairs, adapted from the teacher's
// registerShellHooks/registerWebhookHooks. Registration failures are
// logged, not fatal: a malformed -hook-script flag shouldn't keep the
// service from starting.
func registerConfiguredHooks(mgr *hooks.Manager, cfg Config, log *slog.Logger) {
	for i, script := range cfg.HookScripts {
		eventType, scriptPath, err := splitHookAssignment(script)
		if err != nil {
			log.Error("invalid hook-script", "value", script, "error", err)
			continue
		}
		h := hooks.NewShellHook(fmt.Sprintf("shell_%d", i), scriptPath, 30*time.Second)
		if err := mgr.RegisterHook(eventType, h); err != nil {
			log.Error("failed to register shell hook", "event_type", eventType, "error", err)
			continue
		}
		log.Info("registered shell hook", "event_type", eventType, "script_path", scriptPath)
	}

	for i, webhook := range cfg.HookWebhooks {
		eventType, url, err := splitHookAssignment(webhook)
		if err != nil {
			log.Error("invalid hook-webhook", "value", webhook, "error", err)
			continue
		}
		h := hooks.NewWebhookHook(fmt.Sprintf("webhook_%d", i), url, 30*time.Second)
		if err := mgr.RegisterHook(eventType, h); err != nil {
			log.Error("failed to register webhook hook", "event_type", eventType, "error", err)
			continue
		}
		log.Info("registered webhook hook", "event_type", eventType, "webhook_url", url)
	}
}

func splitHookAssignment(assignment string) (hooks.EventType, string, error) {
	parts := strings.SplitN(assignment, "=", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected event_type=value, got %q", assignment)
	}
	return hooks.EventType(parts[0]), parts[1], nil
}
