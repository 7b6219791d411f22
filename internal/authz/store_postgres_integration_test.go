//go:build integration

package authz_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/authz"
	id "custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *authz.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = authz.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "principals"))
}

func (s *PostgresStoreSuite) newPrincipal() *authz.Principal {
	principalID, err := id.ParsePrincipalID(uuid.NewString())
	s.Require().NoError(err)
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &authz.Principal{
		ID:        principalID,
		Name:      "Aurora Pharma",
		Roles:     []authz.RoleGrant{{Role: id.RoleManufacturer, GrantedAt: now}},
		Licenses:  []authz.License{},
		CreatedAt: now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	principal := s.newPrincipal()
	s.Require().NoError(s.store.Create(ctx, principal))

	found, err := s.store.FindByID(ctx, principal.ID)
	s.Require().NoError(err)
	s.Equal(principal.ID, found.ID)
	s.Equal(principal.Name, found.Name)
	s.Require().Len(found.Roles, 1)
	s.Equal(id.RoleManufacturer, found.Roles[0].Role)
	s.True(found.HasRole(id.RoleManufacturer))
}

func (s *PostgresStoreSuite) TestCreateDuplicate() {
	ctx := context.Background()
	principal := s.newPrincipal()
	s.Require().NoError(s.store.Create(ctx, principal))

	err := s.store.Create(ctx, principal)
	s.True(errors.Is(err, sentinel.ErrConflict), "got %v", err)
}

func (s *PostgresStoreSuite) TestFindUnknown() {
	principalID, err := id.ParsePrincipalID(uuid.NewString())
	s.Require().NoError(err)
	_, err = s.store.FindByID(context.Background(), principalID)
	s.True(errors.Is(err, sentinel.ErrNotFound), "got %v", err)
}

func (s *PostgresStoreSuite) TestExecutePersistsMutation() {
	ctx := context.Background()
	principal := s.newPrincipal()
	s.Require().NoError(s.store.Create(ctx, principal))

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := s.store.Execute(ctx, principal.ID,
		func(*authz.Principal) error { return nil },
		func(p *authz.Principal) {
			p.Licenses = append(p.Licenses, authz.License{
				Type:      id.LicenseWholesale,
				Authority: "FMD Authority",
				IssuedAt:  now,
				ExpiresAt: now.Add(365 * 24 * time.Hour),
			})
		},
	)
	s.Require().NoError(err)

	found, err := s.store.FindByID(ctx, principal.ID)
	s.Require().NoError(err)
	s.True(found.HasValidLicense(id.LicenseWholesale, now.Add(time.Hour)))
	s.False(found.HasValidLicense(id.LicenseWholesale, now.Add(366*24*time.Hour)))
}

// TestConcurrentIdempotentGrant verifies the row lock makes repeated
// grants converge on a single role record.
func (s *PostgresStoreSuite) TestConcurrentIdempotentGrant() {
	ctx := context.Background()
	principal := s.newPrincipal()
	s.Require().NoError(s.store.Create(ctx, principal))

	const writers = 20
	var wg sync.WaitGroup
	var failures atomic.Int32
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, principal.ID,
				func(*authz.Principal) error { return nil },
				func(p *authz.Principal) {
					if p.HasRole(id.RoleDistributor) {
						return
					}
					p.Roles = append(p.Roles, authz.RoleGrant{Role: id.RoleDistributor, GrantedAt: time.Now().UTC()})
				},
			)
			if err != nil {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Zero(failures.Load())
	found, err := s.store.FindByID(ctx, principal.ID)
	s.Require().NoError(err)
	s.Len(found.Roles, 2, "manufacturer grant plus exactly one distributor grant")
}
