package authz

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	audit "custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

// AuditPublisher is the slice of the audit publisher the registry needs.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service is the Identity & Authorization Registry. It owns principal
// records and answers the capability queries every other component
// gates on. Purely synchronous lookup/mutation; no retries.
type Service struct {
	store Store
	audit AuditPublisher
}

func NewService(store Store, auditPublisher AuditPublisher) *Service {
	return &Service{store: store, audit: auditPublisher}
}

// CreatePrincipal registers a new actor identity.
func (s *Service) CreatePrincipal(ctx context.Context, principalID id.PrincipalID, name string) (*Principal, error) {
	if principalID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "principal id is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "principal name is required")
	}

	principal := &Principal{
		ID:        principalID,
		Name:      name,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, principal); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "principal already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create principal")
	}
	return principal, nil
}

// GrantRole adds a role grant. Granting an already-held role is a no-op
// so gateway retries stay idempotent.
func (s *Service) GrantRole(ctx context.Context, principalID id.PrincipalID, role id.Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	now := requestcontext.Now(ctx)

	_, err := s.store.Execute(ctx, principalID,
		func(p *Principal) error {
			if p.RevokedAt != nil {
				return dErrors.New(dErrors.CodeInvalidTransition, "principal is revoked")
			}
			return nil
		},
		func(p *Principal) {
			if p.HasRole(role) {
				return
			}
			p.Roles = append(p.Roles, RoleGrant{Role: role, GrantedAt: now})
		},
	)
	if err != nil {
		return wrapPrincipalErr(err)
	}

	return s.audit.Emit(ctx, audit.Event{
		Actor:     principalID,
		Action:    string(audit.EventRoleGranted),
		Decision:  role.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
}

// RevokeRole stamps the revocation time on an active grant.
// Fails with not_found when the grant is absent, per the registry
// contract; revoking twice is therefore an error, not a no-op.
func (s *Service) RevokeRole(ctx context.Context, principalID id.PrincipalID, role id.Role) error {
	if !role.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	now := requestcontext.Now(ctx)

	_, err := s.store.Execute(ctx, principalID,
		func(p *Principal) error {
			if !p.HasRole(role) {
				return dErrors.New(dErrors.CodeNotFound, "role grant not found")
			}
			return nil
		},
		func(p *Principal) {
			for i := range p.Roles {
				if p.Roles[i].Role == role && p.Roles[i].RevokedAt == nil {
					p.Roles[i].RevokedAt = &now
				}
			}
		},
	)
	if err != nil {
		return wrapPrincipalErr(err)
	}

	return s.audit.Emit(ctx, audit.Event{
		Actor:     principalID,
		Action:    string(audit.EventRoleRevoked),
		Decision:  role.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
}

// HasRole answers the capability query other components gate on.
// Unknown principals simply hold no roles.
func (s *Service) HasRole(ctx context.Context, principalID id.PrincipalID, role id.Role) (bool, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}
	return p.HasRole(role), nil
}

// IssueLicense attaches a license record to a principal.
func (s *Service) IssueLicense(ctx context.Context, principalID id.PrincipalID, licenseType id.LicenseType, authority string, expiresAt time.Time) error {
	authority = strings.TrimSpace(authority)
	if authority == "" {
		return dErrors.New(dErrors.CodeBadRequest, "issuing authority is required")
	}
	now := requestcontext.Now(ctx)
	if !expiresAt.After(now) {
		return dErrors.New(dErrors.CodeInvalidMetadata, "license expiry must be in the future")
	}

	_, err := s.store.Execute(ctx, principalID,
		func(p *Principal) error {
			if p.RevokedAt != nil {
				return dErrors.New(dErrors.CodeInvalidTransition, "principal is revoked")
			}
			return nil
		},
		func(p *Principal) {
			p.Licenses = append(p.Licenses, License{
				Type:      licenseType,
				Authority: authority,
				IssuedAt:  now,
				ExpiresAt: expiresAt,
			})
		},
	)
	if err != nil {
		return wrapPrincipalErr(err)
	}

	return s.audit.Emit(ctx, audit.Event{
		Actor:     principalID,
		Action:    string(audit.EventLicenseIssued),
		Decision:  licenseType.String(),
		RequestID: requestcontext.RequestID(ctx),
	})
}

// HasValidLicense reports whether the principal holds an unrevoked,
// unexpired license of the given type as of at. Expired licenses
// answer false, not an error: expiry is a query-time comparison.
func (s *Service) HasValidLicense(ctx context.Context, principalID id.PrincipalID, licenseType id.LicenseType, at time.Time) (bool, error) {
	p, err := s.store.FindByID(ctx, principalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}
	return p.HasValidLicense(licenseType, at), nil
}

// SetAPIKey stores a bcrypt hash of the gateway API key for a sensor
// principal. The plaintext key is never persisted.
func (s *Service) SetAPIKey(ctx context.Context, principalID id.PrincipalID, key string) error {
	if len(key) < 16 {
		return dErrors.New(dErrors.CodeBadRequest, "api key must be at least 16 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash api key")
	}

	_, err = s.store.Execute(ctx, principalID,
		func(p *Principal) error {
			if p.RevokedAt != nil {
				return dErrors.New(dErrors.CodeInvalidTransition, "principal is revoked")
			}
			return nil
		},
		func(p *Principal) {
			p.APIKeyHash = string(hash)
		},
	)
	return wrapPrincipalErr(err)
}

// VerifyAPIKey checks a presented gateway API key against the stored
// hash. Returns unauthorized for unknown principals and bad keys alike
// so probing cannot distinguish the two.
func (s *Service) VerifyAPIKey(ctx context.Context, principalID id.PrincipalID, key string) error {
	p, err := s.store.FindByID(ctx, principalID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}
	if p.APIKeyHash == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.APIKeyHash), []byte(key)); err != nil {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid api key")
	}
	return nil
}

func wrapPrincipalErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "principal not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "authorization store failure")
}
