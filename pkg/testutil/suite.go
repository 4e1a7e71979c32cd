package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/medflow/medtrack/pkg/database"
	"github.com/medflow/medtrack/pkg/logger"
)

var (
	shared          *pharmacyDB
	sharedOnce      sync.Once
	sharedErr       error
)

// IntegrationSuite provides a migrated PostgreSQL database shared by the
// tests of one package.
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    ctx := context.Background()
//	    var err error
//	    suite, err = testutil.NewIntegrationSuite(ctx, repository.Migrations())
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    code := m.Run()
//	    suite.Cleanup(ctx)
//	    os.Exit(code)
//	}
type IntegrationSuite struct {
	DB     *database.DB
	Logger *logger.Logger

	pg *pharmacyDB
}

// NewIntegrationSuite starts (or reuses) the container and applies migrations.
func NewIntegrationSuite(ctx context.Context, migrations []database.Migration) (*IntegrationSuite, error) {
	sharedOnce.Do(func() {
		shared, sharedErr = startPharmacyDB(ctx)
	})
	if sharedErr != nil {
		return nil, sharedErr
	}

	log := logger.New("test", "test")
	db, err := database.Open(database.DriverPostgres, shared.dsn, database.Pool{}, log)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, migrations); err != nil {
		return nil, err
	}

	return &IntegrationSuite{
		DB:     db,
		Logger: log,
		pg:     shared,
	}, nil
}

// Truncate empties the given tables at the end of the test.
func (s *IntegrationSuite) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	t.Cleanup(func() {
		query := fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", "))
		if _, err := s.DB.ExecContext(context.Background(), query); err != nil {
			t.Logf("warning: failed to truncate %v: %v", tables, err)
		}
	})
}

// Cleanup closes the database and stops the container.
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.pg != nil {
		_ = s.pg.terminate(ctx)
	}
}
