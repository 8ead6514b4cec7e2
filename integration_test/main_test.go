package integration_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	pgtc "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kailera/acertaia-api/internal/storage"
	"github.com/kailera/acertaia-api/pkg/logger"
)

// BaseIntegrationSuite starts Postgres and a JetStream enabled NATS server
// once per suite.
type BaseIntegrationSuite struct {
	suite.Suite
	Postgres    testcontainers.Container
	PostgresDSN string
	NATS        testcontainers.Container
	NATSURL     string
	Repo        *storage.PostgresRepo
	DB          *gorm.DB // seeds the catalog tables owned by the agent management API
	Ctx         context.Context
	cancel      context.CancelFunc
}

// SetupSuite runs once before the tests in the suite are run.
func (s *BaseIntegrationSuite) SetupSuite() {
	s.Ctx, s.cancel = context.WithCancel(context.Background())
	logger.Log = zaptest.NewLogger(s.T()).Named("integration")
	startTime := time.Now()

	var err error
	s.Postgres, s.PostgresDSN, err = startPostgres(s.Ctx)
	s.Require().NoError(err, "failed to start postgres")

	s.NATS, s.NATSURL, err = startNATSContainer(s.Ctx)
	s.Require().NoError(err, "failed to start NATS")

	s.Repo, err = storage.NewPostgresRepo(s.PostgresDSN, true, "public")
	s.Require().NoError(err, "failed to create repository")
	s.Require().NoError(s.Repo.MigrateCatalog(s.Ctx))

	s.DB, err = gorm.Open(postgres.Open(s.PostgresDSN), &gorm.Config{})
	s.Require().NoError(err)

	log.Printf("BaseIntegrationSuite setup complete in %v", time.Since(startTime))
}

// TearDownSuite runs once after all tests in the suite have finished.
func (s *BaseIntegrationSuite) TearDownSuite() {
	if s.Repo != nil {
		_ = s.Repo.Close(s.Ctx)
	}
	if s.NATS != nil {
		if err := s.NATS.Terminate(s.Ctx); err != nil {
			s.T().Logf("Error terminating NATS container: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Terminate(s.Ctx); err != nil {
			s.T().Logf("Error terminating PostgreSQL container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// SetupTest truncates every table so each test starts clean.
func (s *BaseIntegrationSuite) SetupTest() {
	err := s.DB.Exec(`TRUNCATE conversation_bindings, inbound_messages, exhausted_webhooks,
		agents, agent_channels, whatsapp_numbers RESTART IDENTITY CASCADE`).Error
	s.Require().NoError(err, "failed to truncate tables")
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := pgtc.Run(ctx,
		"postgres:17-bookworm",
		pgtc.WithDatabase("acertaia"),
		pgtc.WithUsername("postgres"),
		pgtc.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer, "", fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	return pgContainer, dsn, nil
}

func startNATSContainer(ctx context.Context) (testcontainers.Container, string, error) {
	natsContainer, err := tcnats.Run(ctx,
		"nats:2.11-alpine",
		tcnats.WithArgument("name", "acertaia-test-nats"),
		tcnats.WithArgument("store_dir", "/data"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start NATS container: %w", err)
	}

	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		return natsContainer, "", fmt.Errorf("failed to get NATS connection string: %w", err)
	}
	return natsContainer, natsURL, nil
}
