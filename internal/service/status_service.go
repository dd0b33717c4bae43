package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	app_errors "ollama-chat/internal/errors"
	"ollama-chat/internal/events"
	"ollama-chat/internal/llm"
	"ollama-chat/internal/model"
)

const DefaultPollInterval = 30 * time.Second

const (
	statusInitializing = "Initializing..."
	statusConnected    = "Connected to Ollama"
	statusFailed       = "Connection failed"
)

// StatusService monitors the Ollama server. It owns the only ServerStatus
// value; everything else reads copies.
type StatusService struct {
	llm      llm.LLMProvider
	interval time.Duration
	broker   *events.Broker[model.ServerStatus]

	mu     sync.RWMutex
	status model.ServerStatus

	// checkMu keeps a manual check and a tick from interleaving their writes.
	checkMu sync.Mutex

	runMu sync.Mutex
	stop  context.CancelFunc
	done  chan struct{}
}

func NewStatusService(provider llm.LLMProvider, interval time.Duration) *StatusService {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StatusService{
		llm:      provider,
		interval: interval,
		broker:   events.NewBroker[model.ServerStatus]("status", 16),
		status:   model.ServerStatus{Models: []string{}, StatusText: statusInitializing},
	}
}

// Status returns the last observed status.
func (s *StatusService) Status() model.ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Models = slices.Clone(s.status.Models)
	return out
}

// Subscribe delivers every published status.
func (s *StatusService) Subscribe() (<-chan model.ServerStatus, func()) {
	return s.broker.Subscribe()
}

// CheckStatus queries the server immediately. The model list is only fetched
// when the version check succeeds.
func (s *StatusService) CheckStatus(ctx context.Context) model.ServerStatus {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()

	next := model.ServerStatus{Models: []string{}, CheckedAt: model.Now()}

	version, err := s.llm.Version(ctx)
	if err != nil {
		next.StatusText = checkFailureText(err)
		s.publish(next)
		return next
	}
	next.Reachable = true
	next.Version = version
	next.StatusText = statusConnected

	models, err := s.llm.ListModels(ctx)
	if err != nil {
		slog.Warn("Ollama answered the version check but the model list failed", "error", err)
		next.Models = s.Status().Models
	} else {
		next.Models = models
	}

	s.publish(next)
	return next
}

// Start begins polling in the background. It checks once right away, then on
// every interval until ctx is done or Stop is called.
func (s *StatusService) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})

	go s.poll(ctx, s.done)
	slog.Info("Status monitor started", "interval", s.interval)
}

// Stop ends polling and waits for the loop to exit.
func (s *StatusService) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.stop == nil {
		return
	}
	s.stop()
	<-s.done
	s.stop, s.done = nil, nil
	slog.Info("Status monitor stopped")
}

func (s *StatusService) poll(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.CheckStatus(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckStatus(ctx)
		}
	}
}

func (s *StatusService) publish(next model.ServerStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()

	if prev.Reachable != next.Reachable {
		slog.Info("Ollama reachability changed", "reachable", next.Reachable, "status", next.StatusText)
	}
	s.broker.Publish(next)
}

func checkFailureText(err error) string {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) || errors.Is(err, app_errors.ErrDecode) {
		return statusFailed
	}
	return "Not connected: " + err.Error()
}
