package services

import (
	"context"
	"time"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

// OnlineChecker reports whether the inverter link is up
type OnlineChecker interface {
	IsOnline() bool
}

// HeartbeatService periodically republishes "online" so retained
// availability survives broker restarts
type HeartbeatService struct {
	publisher StatusPublisher
	monitor   OnlineChecker
	interval  time.Duration
}

// NewHeartbeatService creates a new heartbeat service
func NewHeartbeatService(publisher StatusPublisher, monitor OnlineChecker, interval time.Duration) *HeartbeatService {
	return &HeartbeatService{
		publisher: publisher,
		monitor:   monitor,
		interval:  interval,
	}
}

// Start begins the heartbeat loop; it returns when ctx is done
func (s *HeartbeatService) Start(ctx context.Context) {
	if s.interval <= 0 {
		logger.LogDebug("💓 Heartbeat disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.LogInfo("💓 Heartbeat service started with interval: %v", s.interval)

	for {
		select {
		case <-ctx.Done():
			logger.LogDebug("🔇 Heartbeat service stopped")
			return
		case <-ticker.C:
			s.sendHeartbeat(ctx)
		}
	}
}

// sendHeartbeat sends a status heartbeat if the link is up
func (s *HeartbeatService) sendHeartbeat(ctx context.Context) {
	if !s.monitor.IsOnline() {
		logger.LogDebug("💔 Skipping heartbeat - inverter is offline")
		return
	}

	if err := s.publisher.PublishStatusOnline(ctx); err != nil {
		logger.LogError("⚠️ Heartbeat failed: %v", err)
		return
	}
	logger.LogDebug("💓 Heartbeat sent: online")

	if err := s.publisher.PublishDiagnostic(ctx, berrors.CodeOK, "Sofar bridge running"); err != nil {
		logger.LogDebug("⚠️ Diagnostic heartbeat failed: %v", err)
	}
}
