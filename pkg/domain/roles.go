package domain

import dErrors "custodia/pkg/domain-errors"

// Role is a capability grant held by a principal. Invariant: the value
// must be one of the supported roles.
//
// Usage: construct via ParseRole at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type Role string

// Supported roles, one per supply-chain actor class.
const (
	RoleManufacturer Role = "manufacturer"
	RoleDistributor  Role = "distributor"
	RolePharmacy     Role = "pharmacy"
	RoleRegulator    Role = "regulator"
	RoleSensor       Role = "sensor"
)

// validRoles is the single source of truth for valid roles.
var validRoles = map[Role]bool{
	RoleManufacturer: true,
	RoleDistributor:  true,
	RolePharmacy:     true,
	RoleRegulator:    true,
	RoleSensor:       true,
}

// ParseRole constructs a Role from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or
// unsupported; no other errors are expected.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

// IsValid checks if the role is one of the supported enum values.
func (r Role) IsValid() bool {
	return validRoles[r]
}

func (r Role) String() string {
	return string(r)
}

// NextTier returns the role a recipient must hold to accept custody
// from a holder with this role. Manufacturer ships to distributors,
// distributors ship to pharmacies. Pharmacy is the end of the chain
// (dispensing is outside the ledger), so it has no next tier.
func (r Role) NextTier() (Role, bool) {
	switch r {
	case RoleManufacturer:
		return RoleDistributor, true
	case RoleDistributor:
		return RolePharmacy, true
	default:
		return "", false
	}
}

// LicenseType labels a regulatory license held by a principal.
type LicenseType string

const (
	LicenseWholesale LicenseType = "wholesale_distribution"
	LicensePharmacy  LicenseType = "pharmacy_dispensing"
)

var validLicenseTypes = map[LicenseType]bool{
	LicenseWholesale: true,
	LicensePharmacy:  true,
}

// ParseLicenseType constructs a LicenseType from external input.
func ParseLicenseType(s string) (LicenseType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "license type cannot be empty")
	}
	l := LicenseType(s)
	if !validLicenseTypes[l] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid license type")
	}
	return l, nil
}

func (l LicenseType) String() string {
	return string(l)
}

// RequiredLicense returns the license a principal needs before it can
// take custody while holding the given role. Manufacturers and
// regulators are licensed out-of-band, so only downstream tiers carry
// a ledger-checked license.
func RequiredLicense(role Role) (LicenseType, bool) {
	switch role {
	case RoleDistributor:
		return LicenseWholesale, true
	case RolePharmacy:
		return LicensePharmacy, true
	default:
		return "", false
	}
}
