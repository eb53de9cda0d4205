//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmsbridge/gradewatch/internal/store"
	storepostgres "github.com/tmsbridge/gradewatch/internal/store/postgres"
	"github.com/tmsbridge/gradewatch/internal/testutil"
)

var (
	testDB   *pgxpool.Pool
	testRepo *storepostgres.Repository

	// Mailpit for end-to-end email delivery tests
	mailpitContainer *testutil.MailpitContainer
	mailpitClient    *MailpitClient
)

// testCipherKey is a throwaway 32-byte key for sealing credentials in
// tests.
var testCipherKey = []byte("0123456789abcdef0123456789abcdef")

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	mailpitContainer, err = testutil.NewMailpitContainer(ctx)
	if err != nil {
		log.Fatalf("start mailpit: %v", err)
	}
	defer func() {
		if err := mailpitContainer.Terminate(ctx); err != nil {
			log.Printf("terminate mailpit: %v", err)
		}
	}()

	mailpitClient = NewMailpitClient(
		mailpitContainer.APIHost,
		mailpitContainer.APIPort,
	)

	if err := storepostgres.Migrate(pgContainer.ConnectionString); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgxpool.New(ctx, pgContainer.ConnectionString)
	if err != nil {
		log.Fatalf("create test db pool: %v", err)
	}

	cipher, err := store.NewCipher(testCipherKey)
	if err != nil {
		log.Fatalf("create cipher: %v", err)
	}
	testRepo = storepostgres.NewRepository(testDB, cipher)

	code := m.Run()

	testDB.Close()

	os.Exit(code)
}
