package app

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/google/uuid"
	"github.com/upb/realty-dashboard/auth"
	"github.com/upb/realty-dashboard/authstate"
	"github.com/upb/realty-dashboard/cognito"
	"github.com/upb/realty-dashboard/config"
	"github.com/upb/realty-dashboard/middleware"
	"github.com/upb/realty-dashboard/repositories"
	"github.com/upb/realty-dashboard/repositories/postgres"
	"github.com/upb/realty-dashboard/roleresolver"
	"github.com/upb/realty-dashboard/services"
	"github.com/upb/realty-dashboard/services/audit"
	"github.com/upb/realty-dashboard/workspace"
	"go.uber.org/zap"
)

// memoryHintCapacity bounds role hints kept in memory when no database is configured.
const memoryHintCapacity = 10000

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Persistence
	AuditLogs repositories.AuditRepository
	RoleHints roleresolver.HintStore

	// Audit
	AuditService *audit.AuditService

	// Cognito collaborators. Nil when the user pool is not configured.
	Validator   *cognito.CognitoValidator
	GroupLookup roleresolver.GroupLister
	authAPI     cognito.AuthAPI
	exchanger   cognito.CodeExchanger

	// Sessions
	Workspaces *workspace.Registry

	// HTTP
	authHandler    *auth.Handler
	AuthMiddleware *middleware.AuthMiddleware
	Gates          *middleware.Gates
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := deps.initAudit(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize audit: %w", err)
	}

	if err := deps.initCognito(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize cognito: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens PostgreSQL when configured. Without it role hints
// are kept in memory and the audit trail is disabled.
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if !cfg.Database.Enabled() {
		d.Logger.Warn("database not configured, role hints kept in memory and audit disabled")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() error {
	if d.RepoFactory == nil {
		hints, err := roleresolver.NewMemoryHintStore(memoryHintCapacity)
		if err != nil {
			return err
		}
		d.RoleHints = hints
		return nil
	}

	repos := d.RepoFactory.NewRepositories()
	d.AuditLogs = repos.AuditLogs
	d.RoleHints = repos.RoleHints

	d.Logger.Info("repositories initialized")
	return nil
}

func (d *Dependencies) initAudit(cfg *config.Config) error {
	if !cfg.Audit.Enabled || d.AuditLogs == nil {
		return nil
	}

	d.AuditService = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
	})
	return d.AuditService.Start()
}

func (d *Dependencies) initCognito(ctx context.Context, cfg *config.Config) error {
	if !cfg.Cognito.CognitoEnabled() {
		d.Logger.Warn("cognito not configured, sign in disabled")
		return nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Cognito.Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := cip.NewFromConfig(awsCfg)

	d.authAPI = client
	d.GroupLookup = cognito.NewGroupLookup(client, cfg.Cognito.UserPoolID)
	d.Validator = cognito.NewCognitoValidator(cognito.Config{
		Region:      cfg.Cognito.Region,
		UserPoolID:  cfg.Cognito.UserPoolID,
		ClientID:    cfg.Cognito.ClientID,
		CacheTTL:    cfg.Cognito.JWKSCacheTTL,
		HTTPTimeout: cfg.Cognito.HTTPTimeout,
	})
	if cfg.Cognito.HostedUIEnabled() {
		d.exchanger = services.NewCognitoTokenExchanger(cfg.Cognito)
	}

	d.Logger.Info("cognito initialized",
		zap.String("user_pool_id", cfg.Cognito.UserPoolID),
		zap.Bool("hosted_ui", cfg.Cognito.HostedUIEnabled()))
	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.Workspaces = workspace.NewRegistry(workspace.Config{
		CookieName:   cfg.Session.CookieName,
		SecureCookie: cfg.Session.SecureCookie,
		TTL:          cfg.Session.WorkspaceTTL,
		MaxSize:      cfg.Session.MaxWorkspaces,
	}, d.NewWorkspace, d.Logger)

	var auditor middleware.AccessAuditor
	if d.AuditService != nil {
		auditor = d.AuditService
	}
	d.Gates = middleware.NewGates(cfg.Session.SignInPath, cfg.Session.VerifyTimeout, auditor, d.Logger)

	var validator middleware.TokenValidator = rejectAllValidator{}
	var authValidator auth.TokenValidator
	if d.Validator != nil {
		validator = d.Validator
		authValidator = d.Validator
	}
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.GroupLookup, cfg.Roles.GroupLookupTimeout, d.Logger)
	d.authHandler = auth.NewHandler(cfg, authValidator, d.Logger)
}

// NewWorkspace builds the auth provider and role resolver for one browser.
func (d *Dependencies) NewWorkspace(id uuid.UUID) (*workspace.Workspace, error) {
	logger := d.Logger.With(zap.String("workspace_id", id.String()))

	var store authstate.TokenStore = unconfiguredTokenStore{}
	if d.authAPI != nil {
		store = cognito.NewTokenStore(d.authAPI, d.exchanger, cognito.TokenStoreConfig{
			ClientID:     d.Config.Cognito.ClientID,
			ClientSecret: d.Config.Cognito.ClientSecret,
			RedirectURI:  d.Config.Cognito.RedirectURI,
		})
	}

	var recorder authstate.EventRecorder
	if d.AuditService != nil {
		recorder = d.AuditService
	}

	provider := authstate.NewProvider(store, recorder, logger)
	resolver, err := roleresolver.New(provider, d.GroupLookup, d.RoleHints, logger, roleresolver.Config{
		CacheSize:     d.Config.Roles.CacheSize,
		LookupTimeout: d.Config.Roles.GroupLookupTimeout,
	})
	if err != nil {
		return nil, err
	}
	return workspace.New(id, provider, resolver), nil
}

// unconfiguredTokenStore is used when Cognito is not configured: there is
// never a stored session and every sign in fails.
type unconfiguredTokenStore struct{}

func (unconfiguredTokenStore) GetCurrentSession(context.Context) (*authstate.Session, error) {
	return nil, services.ErrSessionAbsent
}

func (unconfiguredTokenStore) SignIn(context.Context, authstate.Credentials) (*authstate.Session, error) {
	return nil, services.NewDomainError(services.ErrorTypeInternal, "authentication not configured", nil)
}

func (unconfiguredTokenStore) SignOut(context.Context) error { return nil }

func (unconfiguredTokenStore) GetFreshToken(context.Context) (string, error) {
	return "", services.ErrSessionAbsent
}

// rejectAllValidator rejects all tokens (used when Cognito is not configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*cognito.ParsedClaims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Workspaces != nil {
		d.Workspaces.Close()
	}

	if d.AuditService != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.AuditService.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop audit service: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
