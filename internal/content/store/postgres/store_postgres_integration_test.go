//go:build integration

package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"lms/internal/content/document"
	"lms/internal/content/schema"
	"lms/internal/content/store"
	"lms/internal/content/store/postgres"
	"lms/internal/content/store/storetest"
	"lms/pkg/platform/sentinel"
	"lms/pkg/testutil/containers"
)

type PostgresBackendSuite struct {
	storetest.BackendSuite
	postgres *containers.PostgresContainer
}

func TestPostgresBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresBackendSuite))
}

func (s *PostgresBackendSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.Require().NoError(postgres.NewPostgres(s.postgres.DB).EnsureSchema(context.Background()))
	s.NewBackend = func() store.Backend {
		return postgres.NewPostgres(s.postgres.DB, postgres.WithDedupKeys(schema.DedupKeys()))
	}
}

func (s *PostgresBackendSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "documents"))
	s.BackendSuite.SetupTest()
}

// TestPlainInsertClaimsDedupKey verifies an enrollment written by Insert
// blocks a second one with the same course and user.
func (s *PostgresBackendSuite) TestPlainInsertClaimsDedupKey() {
	first := document.Document{document.IDField: document.NewID(), "course_id": "c1", "user_id": "u1"}
	s.Require().NoError(s.Backend.Insert(s.Ctx, "enrollment", first))

	second := document.Document{document.IDField: document.NewID(), "course_id": "c1", "user_id": "u1"}
	s.ErrorIs(s.Backend.Insert(s.Ctx, "enrollment", second), sentinel.ErrConflict)

	key := store.Key{{Name: "course_id", Value: "c1"}, {Name: "user_id", Value: "u1"}}
	stored, inserted, err := s.Backend.InsertIfAbsent(s.Ctx, "enrollment", key, second)
	s.Require().NoError(err)
	s.False(inserted)
	s.Equal(first[document.IDField], stored[document.IDField])
}

func (s *PostgresBackendSuite) TestOpenReportsDatabaseName() {
	ctx := context.Background()
	opened, err := postgres.Open(ctx, s.postgres.DSN)
	s.Require().NoError(err)
	defer opened.Close(ctx)
	s.Equal("lms", opened.Name())
}
