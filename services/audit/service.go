package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/models"
	"github.com/upb/realty-dashboard/repositories"
	"github.com/upb/realty-dashboard/roles"
	"go.uber.org/zap"
)

// AuditEvent represents an event to be audited
type AuditEvent struct {
	Log *models.AuditLog
}

// AuditService handles asynchronous audit logging
type AuditService struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	eventChan   chan *AuditEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	stopped     bool
	mu          sync.Mutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *AuditService {
	return &AuditService{
		auditRepo:   auditRepo,
		logger:      logger,
		eventChan:   make(chan *AuditEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event without blocking. A full buffer drops the event.
func (s *AuditService) LogEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("principal", event.Log.Email))
		return fmt.Errorf("audit event buffer full")
	}
}

// worker processes events from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("principal", event.Log.Email))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *AuditEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.auditRepo.Insert(ctx, event.Log); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

type clientKey struct{}

type client struct {
	ip        string
	userAgent string
}

// WithClient attaches the caller's address and user agent to ctx so that
// events recorded under it carry them.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, client{ip: ip, userAgent: userAgent})
}

// withRequest copies request metadata from ctx onto log.
func withRequest(ctx context.Context, log *models.AuditLog) *models.AuditLog {
	c, _ := ctx.Value(clientKey{}).(client)
	return log.WithRequest(middleware.GetReqID(ctx), c.ip, c.userAgent)
}

var authActions = map[authstate.EventType]models.AuditAction{
	authstate.EventSignIn:         models.AuditActionSignIn,
	authstate.EventSignInFailed:   models.AuditActionSignInFailed,
	authstate.EventSignOut:        models.AuditActionSignOut,
	authstate.EventSessionExpired: models.AuditActionSessionExpired,
}

// RecordAuthEvent implements authstate.EventRecorder
func (s *AuditService) RecordAuthEvent(ctx context.Context, event authstate.AuthEvent) {
	action, ok := authActions[event.Type]
	if !ok {
		s.logger.Debug("ignoring unknown auth event", zap.String("type", string(event.Type)))
		return
	}

	log := models.NewAuditLog(action, event.PrincipalID, event.Email).
		WithSession(event.SessionID).
		WithError(event.Err)
	withRequest(ctx, log)

	if err := s.LogEvent(&AuditEvent{Log: log}); err != nil {
		s.logger.Debug("auth event not audited", zap.Error(err))
	}
}

// LogRoleRefreshed logs a forced role re-derivation
func (s *AuditService) LogRoleRefreshed(ctx context.Context, sessionID uuid.UUID, principalID, email string, role roles.Role, source roles.Source) error {
	log := models.NewAuditLog(models.AuditActionRoleRefreshed, principalID, email).
		WithSession(sessionID).
		WithRole(role.String(), string(source))
	withRequest(ctx, log)

	return s.LogEvent(&AuditEvent{Log: log})
}

// LogAccessDenied logs a gate denial
func (s *AuditService) LogAccessDenied(ctx context.Context, sessionID uuid.UUID, principalID, email string, role roles.Role, source roles.Source, reason, path string) error {
	log := models.NewAuditLog(models.AuditActionAccessDenied, principalID, email).
		WithSession(sessionID).
		WithRole(role.String(), string(source)).
		WithDetails(map[string]interface{}{
			"reason": reason,
			"path":   path,
		})
	withRequest(ctx, log)

	return s.LogEvent(&AuditEvent{Log: log})
}
