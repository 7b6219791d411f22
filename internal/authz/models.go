package authz

import (
	"time"

	id "custodia/pkg/domain"
)

// Principal is an authenticated actor known to the authorization
// registry. Role grants and licenses are immutable once issued except
// for their revocation timestamp; revocation never deletes the record,
// so the registry stays auditable.
type Principal struct {
	ID        id.PrincipalID
	Name      string
	Roles     []RoleGrant
	Licenses  []License
	CreatedAt time.Time
	RevokedAt *time.Time
	// APIKeyHash is the bcrypt hash of the gateway API key for sensor
	// principals. Empty for principals that authenticate via tokens.
	APIKeyHash string
}

// RoleGrant records one role held by a principal.
type RoleGrant struct {
	Role      id.Role
	GrantedAt time.Time
	RevokedAt *time.Time
}

// License is a regulatory license record. Expiry is evaluated at query
// time; nothing in the registry actively expires licenses.
type License struct {
	Type      id.LicenseType
	Authority string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// HasRole reports whether the principal currently holds the role.
func (p *Principal) HasRole(role id.Role) bool {
	if p.RevokedAt != nil {
		return false
	}
	for _, g := range p.Roles {
		if g.Role == role && g.RevokedAt == nil {
			return true
		}
	}
	return false
}

// HasValidLicense reports whether the principal holds an unrevoked
// license of the given type that has not expired as of at.
func (p *Principal) HasValidLicense(licenseType id.LicenseType, at time.Time) bool {
	if p.RevokedAt != nil {
		return false
	}
	for _, l := range p.Licenses {
		if l.Type != licenseType || l.RevokedAt != nil {
			continue
		}
		if at.Before(l.ExpiresAt) {
			return true
		}
	}
	return false
}

func (p *Principal) clone() *Principal {
	cp := *p
	cp.Roles = append([]RoleGrant{}, p.Roles...)
	cp.Licenses = append([]License{}, p.Licenses...)
	return &cp
}
