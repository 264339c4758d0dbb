//go:build integration

package mongodb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"lms/internal/content/schema"
	"lms/internal/content/store"
	"lms/internal/content/store/mongodb"
	"lms/internal/content/store/storetest"
	"lms/pkg/testutil/containers"
)

const testDatabase = "lms_test"

type MongoBackendSuite struct {
	storetest.BackendSuite
	mongo *containers.MongoContainer
}

func TestMongoBackendSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(MongoBackendSuite))
}

func (s *MongoBackendSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.mongo = mgr.GetMongo(s.T())
	s.NewBackend = func() store.Backend {
		return mongodb.NewMongo(s.mongo.Client, testDatabase, mongodb.WithDedupKeys(schema.DedupKeys()))
	}
}

func (s *MongoBackendSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.mongo.DropDatabase(ctx, testDatabase))
	s.BackendSuite.SetupTest()
	s.Require().NoError(s.Backend.(*mongodb.MongoStore).EnsureIndexes(ctx))
}

func (s *MongoBackendSuite) TestOpenReportsDatabaseName() {
	ctx := context.Background()
	opened, err := mongodb.Open(ctx, s.mongo.URI, "lms_open")
	s.Require().NoError(err)
	defer opened.Close(ctx)
	s.Equal("lms_open", opened.Name())
}
