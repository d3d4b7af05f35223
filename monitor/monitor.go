// Package monitor watches network connectivity and drives the mutation
// queue. On a transition to online it clears the offline indicator and
// replays queued operations; on a transition to offline it raises the
// indicator. It holds no data of its own.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stevedore-dashboard/offline-edge/queue"
)

// Prober answers the question "is the network reachable right now".
type Prober interface {
	Online(ctx context.Context) bool
}

// HTTPProber probes connectivity with a HEAD request against a known URL,
// usually the dashboard origin.
type HTTPProber struct {
	URL    string
	Client queue.Doer
}

func (p HTTPProber) Online(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	res, err := client.Do(req)
	if err != nil {
		return false
	}
	res.Body.Close()
	return true
}

// Replayer is the part of the mutation queue the monitor drives.
type Replayer interface {
	Replay(ctx context.Context) ([]queue.Operation, error)
}

type Config struct {
	// Queue to replay on reconnect.
	Queue Replayer
	// Prober consulted by the Run loop. Optional: transitions can also be
	// injected with SetOnline.
	Prober Prober
	// Interval between probes in the Run loop. Default: 10s.
	Interval time.Duration
	// OnChange is invoked on every connectivity transition with the new
	// state. This is the offline-indicator hook.
	OnChange func(online bool)
	// OnReplayed is invoked after a reconnect replay with the number of
	// operations confirmed processed.
	OnReplayed func(processed int)
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

type Monitor struct {
	queue      Replayer
	prober     Prober
	interval   time.Duration
	onChange   func(bool)
	onReplayed func(int)
	log        zerolog.Logger

	mutex  sync.Mutex
	online bool
}

// New creates a monitor that starts in the online state.
func New(config Config) *Monitor {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		queue:      config.Queue,
		prober:     config.Prober,
		interval:   interval,
		onChange:   config.OnChange,
		onReplayed: config.OnReplayed,
		log:        logger.With().Str("component", "monitor").Logger(),
		online:     true,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.online
}

// SetOnline injects a connectivity signal. A transition to online triggers
// a replay pass; repeating the current state is a no-op.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mutex.Lock()
	changed := m.online != online
	m.online = online
	m.mutex.Unlock()
	if !changed {
		return
	}

	if m.onChange != nil {
		m.onChange(online)
	}
	if !online {
		m.log.Info().Msg("Gone offline, switching to cached data")
		return
	}

	m.log.Info().Msg("Back online, processing queued operations")
	processed, err := m.queue.Replay(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("Error processing queued operations")
	}
	m.log.Info().Int("processed", len(processed)).Msg("Queued operations processed")
	if m.onReplayed != nil {
		m.onReplayed(len(processed))
	}
}

// Run polls the prober until the context is cancelled, feeding transitions
// into SetOnline.
func (m *Monitor) Run(ctx context.Context) {
	if m.prober == nil {
		m.log.Warn().Msg("No prober configured, monitor loop not started")
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SetOnline(ctx, m.prober.Online(ctx))
		}
	}
}
