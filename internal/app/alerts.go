package app

import (
	"context"
	"log/slog"

	"asset-recyclebin/internal/event"
	"asset-recyclebin/internal/model"
)

// watchSecurityEvents reports lockouts and unlocks to the operator log until
// ctx is cancelled.
func watchSecurityEvents(ctx context.Context, bus event.Bus, logger *slog.Logger) {
	events, unsubscribe := bus.Subscribe(event.TypeLockedOut, event.TypeUnlocked)
	defer unsubscribe()

	logger = logger.With("component", "security_alerts")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			status, _ := e.Payload.(model.LockoutStatus)
			switch e.Type {
			case event.TypeLockedOut:
				level := slog.LevelWarn
				if status.RequiresAdminUnlock {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "principal locked out",
					"principal_id", status.PrincipalID,
					"level", status.Level,
					"minutes", status.MinutesRemaining,
					"requires_admin_unlock", status.RequiresAdminUnlock,
				)
			case event.TypeUnlocked:
				logger.Info("principal unlocked", "principal_id", status.PrincipalID, "by", e.ActorID)
			}
		}
	}
}
