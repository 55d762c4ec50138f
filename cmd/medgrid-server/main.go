package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medgrid/medgrid/internal/config"
	"github.com/medgrid/medgrid/internal/domain/access"
	"github.com/medgrid/medgrid/internal/domain/audit"
	"github.com/medgrid/medgrid/internal/domain/identity"
	"github.com/medgrid/medgrid/internal/domain/records"
	"github.com/medgrid/medgrid/internal/platform/auth"
	"github.com/medgrid/medgrid/internal/platform/db"
	"github.com/medgrid/medgrid/internal/platform/middleware"
)

// PatientDirectoryAdapter adapts the identity patient repository to the
// access.PatientDirectory interface, avoiding circular imports between the
// access and identity packages.
type PatientDirectoryAdapter struct {
	patients identity.PatientRepository
}

func NewPatientDirectoryAdapter(patients identity.PatientRepository) *PatientDirectoryAdapter {
	return &PatientDirectoryAdapter{patients: patients}
}

// AccessProfile implements access.PatientDirectory.
func (a *PatientDirectoryAdapter) AccessProfile(ctx context.Context, patientID uuid.UUID) (*access.PatientProfile, error) {
	p, err := a.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	profile := &access.PatientProfile{
		ID:         p.ID,
		FullName:   p.FullName,
		AccessCode: p.AccessCode,
	}
	if p.LegacyAccessCode != nil {
		profile.LegacyAccessCode = *p.LegacyAccessCode
	}
	return profile, nil
}

// PrincipalAdapter resolves authenticated user IDs to their doctor or
// patient profile for the access handlers.
type PrincipalAdapter struct {
	identity *identity.Service
}

func NewPrincipalAdapter(svc *identity.Service) *PrincipalAdapter {
	return &PrincipalAdapter{identity: svc}
}

// DoctorIDForUser implements access.PrincipalDirectory.
func (a *PrincipalAdapter) DoctorIDForUser(ctx context.Context, userID string) (uuid.UUID, error) {
	d, err := a.identity.GetDoctorByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return d.ID, nil
}

// PatientIDForUser implements access.PrincipalDirectory.
func (a *PrincipalAdapter) PatientIDForUser(ctx context.Context, userID string) (uuid.UUID, error) {
	p, err := a.identity.GetPatientByUser(ctx, userID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// PatientIDByIdentifier implements access.PrincipalDirectory. The identifier
// is either a patient UUID or an access code.
func (a *PrincipalAdapter) PatientIDByIdentifier(ctx context.Context, identifier string) (uuid.UUID, error) {
	if id, err := uuid.Parse(identifier); err == nil {
		p, err := a.identity.GetPatient(ctx, id)
		if err != nil {
			return uuid.Nil, err
		}
		return p.ID, nil
	}
	p, err := a.identity.GetPatientByAccessCode(ctx, identifier)
	if err != nil {
		return uuid.Nil, err
	}
	return p.ID, nil
}

// AuditServiceAdapter bridges the audit middleware to the audit domain
// service so every API request lands in the audit_events table.
type AuditServiceAdapter struct {
	svc *audit.Service
}

func NewAuditServiceAdapter(svc *audit.Service) *AuditServiceAdapter {
	return &AuditServiceAdapter{svc: svc}
}

// RecordAccess implements middleware.AuditRecorder.
func (a *AuditServiceAdapter) RecordAccess(ctx context.Context, entry middleware.AuditEntry) error {
	e := &audit.Event{
		UserID:       entry.UserID,
		Role:         entry.Role,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		Path:         entry.Path,
		Method:       entry.Method,
		StatusCode:   entry.StatusCode,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		RequestID:    entry.RequestID,
		Recorded:     entry.Timestamp,
	}
	if entry.PatientID != "" {
		if pid, err := uuid.Parse(entry.PatientID); err == nil {
			e.PatientID = &pid
		}
	}
	a.svc.Record(ctx, e)
	return nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "medgrid-server",
		Short: "Multi-tenant patient records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			allTenants, _ := cmd.Flags().GetBool("all-tenants")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)

			if allTenants {
				counts, err := migrator.UpAllTenants(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				if len(counts) == 0 {
					fmt.Println("All tenant schemas up to date.")
					return nil
				}
				for schema, n := range counts {
					fmt.Printf("%s: applied %d migration(s)\n", schema, n)
				}
				return nil
			}

			fmt.Printf("Running migrations on schema: %s\n", schema)
			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	upCmd.Flags().Bool("all-tenants", false, "Apply to every tenant schema in the database")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new tenant schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, ""); err != nil {
				return err
			}
			fmt.Printf("Tenant created successfully. Run migrations with: medgrid-server migrate up --schema tenant_%s\n", name)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Auth middleware
	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	case "hmac":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	default:
		jwksURL := cfg.AuthJWKSURL
		if jwksURL == "" {
			provider, err := auth.NewOIDCProvider(cfg.AuthIssuer)
			if err != nil {
				return fmt.Errorf("discovering OIDC provider: %w", err)
			}
			jwksURL = provider.JWKSURI
		}
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  jwksURL,
		}))
	}

	// Emergency override, after auth so the identity is present
	e.Use(middleware.BreakGlass(logger))

	// Tenant middleware
	e.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Audit trail
	auditRepo := audit.NewRepoPG(pool)
	auditSvc := audit.NewService(auditRepo, logger)
	e.Use(middleware.Audit(logger, NewAuditServiceAdapter(auditSvc)))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// ETag / conditional request handling on reads
	apiV1.Use(middleware.ETagMiddleware(middleware.DefaultCacheConfig()))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// -- Register domain handlers --

	// Identity domain
	patientRepo := identity.NewPatientRepoPG(pool)
	doctorRepo := identity.NewDoctorRepoPG(pool)
	identitySvc := identity.NewService(patientRepo, doctorRepo)
	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterRoutes(apiV1)

	// Access domain
	grantRepo := access.NewGrantRepoPG(pool)
	requestRepo := access.NewRequestRepoPG(pool)
	historyRepo := access.NewHistoryRepoPG(pool)
	patientDir := NewPatientDirectoryAdapter(patientRepo)
	accessSvc := access.NewService(grantRepo, requestRepo, historyRepo, patientDir, logger)
	accessHandler := access.NewHandler(accessSvc, NewPrincipalAdapter(identitySvc))
	accessHandler.RegisterRoutes(apiV1)

	// Records domain. The record repo doubles as the tag directory the
	// resolver's location heuristics read from.
	recordRepo := records.NewRepoPG(pool)
	resolver := access.NewResolver(grantRepo, requestRepo, historyRepo, patientDir, recordRepo, logger)
	recordsSvc := records.NewService(recordRepo, accessSvc, resolver, patientRepo, logger)
	recordsHandler := records.NewHandler(recordsSvc, identitySvc)
	recordsHandler.RegisterRoutes(apiV1)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")

		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
