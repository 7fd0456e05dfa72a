package health

import (
	"testing"
	"time"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
)

func TestNewMonitorIsOnline(t *testing.T) {
	m := NewLinkMonitor(0)
	if !m.IsOnline() {
		t.Error("Expected new monitor to be online")
	}
	if !m.GetLastSuccessTime().IsZero() {
		t.Error("Expected no last success time")
	}
	if m.GetLinkState() != "healthy" {
		t.Errorf("Expected healthy, got %s", m.GetLinkState())
	}
}

func TestMonitorCounts(t *testing.T) {
	m := NewLinkMonitor(4)
	now := time.Now()

	m.RecordSuccess(now)
	m.RecordError(now.Add(time.Second), recovery.Degraded)
	m.RecordError(now.Add(2*time.Second), recovery.Degraded)

	if m.GetSuccessCount() != 1 || m.GetErrorCount() != 2 {
		t.Errorf("Expected 1/2, got %d/%d", m.GetSuccessCount(), m.GetErrorCount())
	}
	if !m.GetLastSuccessTime().Equal(now) {
		t.Errorf("Expected last success %v, got %v", now, m.GetLastSuccessTime())
	}
	if m.GetLinkState() != "degraded" || !m.IsOnline() {
		t.Errorf("Expected degraded and online, got %s online=%v", m.GetLinkState(), m.IsOnline())
	}

	// Window of 4 drops the oldest outcomes
	m.RecordSuccess(now.Add(3 * time.Second))
	m.RecordSuccess(now.Add(4 * time.Second))
	m.RecordSuccess(now.Add(5 * time.Second))
	if m.GetSuccessCount() != 3 || m.GetErrorCount() != 1 {
		t.Errorf("Expected 3/1 after wrap, got %d/%d", m.GetSuccessCount(), m.GetErrorCount())
	}
}

func TestMonitorDeadLink(t *testing.T) {
	m := NewLinkMonitor(10)
	m.RecordError(time.Now(), recovery.Dead)
	if m.IsOnline() {
		t.Error("Expected dead link to be offline")
	}
	if m.GetLastErrorTime().IsZero() {
		t.Error("Expected last error time to be set")
	}
}
