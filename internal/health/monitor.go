package health

import (
	"sync"
	"time"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
)

// DefaultWindow is the number of recent cycles the error rate is computed over
const DefaultWindow = 20

// LinkMonitor tracks the outcome of recent poll cycles for the health
// endpoint. Safe for concurrent use: the bridge loop writes, HTTP reads.
type LinkMonitor struct {
	mu          sync.RWMutex
	outcomes    []bool // ring buffer, true = success
	next        int
	filled      int
	lastSuccess time.Time
	lastError   time.Time
	state       recovery.LinkState
}

// NewLinkMonitor creates a monitor over the last window cycles
func NewLinkMonitor(window int) *LinkMonitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &LinkMonitor{outcomes: make([]bool, window)}
}

func (m *LinkMonitor) record(ok bool) {
	m.outcomes[m.next] = ok
	m.next = (m.next + 1) % len(m.outcomes)
	if m.filled < len(m.outcomes) {
		m.filled++
	}
}

// RecordSuccess records a successful read
func (m *LinkMonitor) RecordSuccess(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(true)
	m.lastSuccess = at
	m.state = recovery.Healthy
}

// RecordError records a failed read and the link state it left behind
func (m *LinkMonitor) RecordError(at time.Time, state recovery.LinkState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(false)
	m.lastError = at
	m.state = state
}

// IsOnline is false once the link has been declared dead
func (m *LinkMonitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != recovery.Dead
}

// GetLinkState returns the last recorded link state name
func (m *LinkMonitor) GetLinkState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.String()
}

// GetLastSuccessTime returns the time of the last successful read
func (m *LinkMonitor) GetLastSuccessTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSuccess
}

// GetLastErrorTime returns the time of the last failed read
func (m *LinkMonitor) GetLastErrorTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// GetErrorCount returns failed reads within the window
func (m *LinkMonitor) GetErrorCount() int {
	return m.count(false)
}

// GetSuccessCount returns successful reads within the window
func (m *LinkMonitor) GetSuccessCount() int {
	return m.count(true)
}

func (m *LinkMonitor) count(want bool) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for i := 0; i < m.filled; i++ {
		if m.outcomes[i] == want {
			n++
		}
	}
	return n
}
