package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/meridianid/authserver/internal/accesspolicy"
	"github.com/meridianid/authserver/internal/clock"
	"github.com/meridianid/authserver/internal/grant"
	"github.com/meridianid/authserver/internal/httpapi"
	"github.com/meridianid/authserver/internal/journey"
	"github.com/meridianid/authserver/internal/journey/step"
	"github.com/meridianid/authserver/internal/keys"
	"github.com/meridianid/authserver/internal/model"
	"github.com/meridianid/authserver/internal/obs/log"
	"github.com/meridianid/authserver/internal/protocol"
	"github.com/meridianid/authserver/internal/store"
	redisstore "github.com/meridianid/authserver/internal/store/redis"
	"github.com/meridianid/authserver/internal/tenant"
	"github.com/meridianid/authserver/internal/webhook"
)

type serveFlags struct {
	listenAddr    string
	issuer        string
	tenantID      string
	redisAddr     string
	redisPrefix   string
	sessionSecret string
	signingAlg    string
	seedDemo      bool
}

func newServeCmd() *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization server",
		Long: `Run the authorization server with a single tenant resolved from
configuration. Multi-tenant deployments embed the httpapi package
directly and supply their own RuntimeResolver.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.listenAddr, "listen", ":8080", "address to listen on")
	cmd.Flags().StringVar(&flags.issuer, "issuer", "http://localhost:8080", "issuer URL advertised in discovery and tokens")
	cmd.Flags().StringVar(&flags.tenantID, "tenant", "default", "tenant id for the single served tenant")
	cmd.Flags().StringVar(&flags.redisAddr, "redis", "", "redis address; empty selects the in-memory store")
	cmd.Flags().StringVar(&flags.redisPrefix, "redis-prefix", "authserver", "redis key prefix")
	cmd.Flags().StringVar(&flags.sessionSecret, "session-secret", "", "HMAC secret for session cookies (min 32 bytes)")
	cmd.Flags().StringVar(&flags.signingAlg, "signing-alg", "ES256", "token signing algorithm (RS256, RS384, RS512, ES256, ES384, ES512)")
	cmd.Flags().BoolVar(&flags.seedDemo, "seed-demo", false, "seed a demo client, user and journey policy")

	return cmd
}

func runServe(ctx context.Context, flags *serveFlags) error {
	if len(flags.sessionSecret) < 32 {
		return errors.New("serve: --session-secret must be at least 32 bytes")
	}

	var st store.Store
	if flags.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: flags.redisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("serve: connecting to redis at %s: %w", flags.redisAddr, err)
		}
		st = redisstore.New(client, flags.redisPrefix)
	} else {
		st = store.NewMemoryStore()
	}
	defer st.Close()

	rt, err := buildRuntime(ctx, st, flags)
	if err != nil {
		return err
	}

	if flags.seedDemo {
		if err := seedDemo(ctx, st, flags.tenantID); err != nil {
			return fmt.Errorf("serve: seeding demo data: %w", err)
		}
		log.Infow("seeded demo data", "tenant", flags.tenantID, "client_id", "demo-app", "username", "demo")
	}

	retry := &webhook.Processor{
		Store:     st,
		Endpoints: webhook.NewEndpointLookup(st),
		HTTP:      &http.Client{Timeout: webhook.MaxTimeout},
		Clock:     rt.Clock,
	}
	go retry.Run(ctx, 30*time.Second)

	server := httpapi.NewServer(
		httpapi.NewStaticRuntimes(map[string]*httpapi.TenantRuntime{flags.tenantID: rt}),
		func(*http.Request) string { return flags.tenantID },
	)

	httpServer := &http.Server{
		Addr:              flags.listenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Infow("authorization server listening", "addr", flags.listenAddr, "issuer", flags.issuer, "tenant", flags.tenantID)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildRuntime assembles the full per-tenant collaborator graph: keys,
// issuer, grant registry, journey engine, protocol coordinator, and
// session codec, all sharing one store and one clock.
func buildRuntime(ctx context.Context, st store.Store, flags *serveFlags) (*httpapi.TenantRuntime, error) {
	clk := clock.Real{}
	now := clk.Now()

	provider := keys.NewLocalProvider()
	keySvc := keys.NewService(provider, 24*time.Hour)
	signingKey, err := provider.Generate(ctx, flags.signingAlg)
	if err != nil {
		return nil, fmt.Errorf("serve: generating signing key: %w", err)
	}
	signingKey.Status = model.KeyActive
	keySvc.Register(signingKey)

	issuer := grant.NewIssuer(keySvc, clk, flags.issuer)
	access := accesspolicy.NewEvaluator()
	events := webhook.NewBus(webhook.LoggerSink{}, &webhook.WebhookSink{Store: st, Clock: clk})

	engine := &journey.Engine{
		Policies: st,
		States:   st,
		Registry: step.NewDefaultRegistry(step.Dependencies{
			Users:    st,
			Consents: st,
			Lockout:  step.LockoutPolicy{MaxFailedAttempts: 5, LockoutDuration: 15 * time.Minute},
		}),
		Services: &journey.Services{Store: st, Access: access, Events: events},
		Clock:    clk,
	}

	par := &protocol.PAR{Store: st, Clock: clk}
	coordinator := &protocol.Coordinator{
		Clients:          st,
		Consents:         st,
		Codes:            st,
		ProtocolContexts: st,
		PAR:              par,
		Journeys:         engine,
		Clock:            clk,
	}

	lockout := grant.LockoutPolicy{MaxFailedAttempts: 5, LockoutDuration: 15 * time.Minute}
	grants := grant.NewRegistry(
		&grant.AuthorizationCodeHandler{Codes: st, Refresh: st, Users: st, Access: access, Issuer: issuer, Now: clk.Now},
		&grant.RefreshTokenHandler{Refresh: st, Users: st, Access: access, Issuer: issuer, Now: clk.Now},
		&grant.ClientCredentialsHandler{Issuer: issuer, Now: clk.Now},
		&grant.DeviceCodeHandler{Devices: st, Issuer: issuer, Now: clk.Now},
		&grant.PasswordHandler{Users: st, Access: access, Issuer: issuer, Lockout: lockout, Now: clk.Now},
		&grant.CIBAHandler{Requests: st, Issuer: issuer, Now: clk.Now},
		&grant.TokenExchangeHandler{Issuer: issuer, Now: clk.Now},
	)

	ten := &tenant.Tenant{
		ID:        flags.tenantID,
		Issuer:    flags.issuer,
		CreatedAt: now,
		Config:    tenant.Config{SessionSecret: []byte(flags.sessionSecret)},
	}
	if err := ten.Validate(); err != nil {
		return nil, err
	}

	return &httpapi.TenantRuntime{
		Tenant: ten,
		Store:       st,
		Clock:       clk,
		Keys:        keySvc,
		Issuer:      issuer,
		Coordinator: coordinator,
		PAR:         par,
		Grants:      grants,
		Journeys:    engine,
		Access:      access,
		Events:      events,
		Sessions:    httpapi.NewSessionCodec([]byte(flags.sessionSecret), clk, 12*time.Hour),
	}, nil
}

// seedDemo provisions a confidential client, an end user and a
// single-step login policy so a fresh process can complete a full
// authorization-code flow out of the box.
func seedDemo(ctx context.Context, st store.Store, tenantID string) error {
	secretHash, err := bcrypt.GenerateFromPassword([]byte("demo-secret"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := st.PutClient(ctx, &model.Client{
		TenantID:                tenantID,
		ID:                      "demo-app",
		SecretHash:              secretHash,
		RedirectURIs:            []string{"http://localhost:3000/callback"},
		AllowedScopes:           []string{"openid", "profile", "email", "offline_access"},
		AllowedGrantTypes:       []string{grant.AuthorizationCodeGrantType, grant.RefreshTokenGrantType, grant.ClientCredentialsGrantType},
		PKCERequired:            true,
		LocalLoginEnabled:       true,
		AuthCodeLifetime:        5 * time.Minute,
		AccessTokenLifetime:     time.Hour,
		IDTokenLifetime:         time.Hour,
		RefreshAbsoluteLifetime: 30 * 24 * time.Hour,
		RefreshTokenUsage:       model.UsageOneTimeOnly,
		JourneyPolicyByPurpose:  map[string]string{"authentication": "demo-login"},
	}); err != nil {
		return err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte("demo-password"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := st.PutUser(ctx, &model.User{
		TenantID:     tenantID,
		SubjectID:    "demo-user",
		Username:     "demo",
		Email:        "demo@example.com",
		PasswordHash: passwordHash,
		Active:       true,
	}); err != nil {
		return err
	}

	return st.PutJourneyPolicy(ctx, &model.JourneyPolicy{
		TenantID: tenantID,
		ID:       "demo-login",
		Steps: []model.PolicyStep{
			{ID: "login", Type: step.LocalLoginType},
		},
	})
}
