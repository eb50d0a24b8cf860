package claims

import "context"

// Source is the read/write contract against the external claims/registry
// system. Reads feed the validation engine; the single-field write path
// serves applied registry update proposals only.
type Source interface {
	// GetClaim loads the claim a document is linked to. A missing claim is
	// a NotFoundError.
	GetClaim(ctx context.Context, externalID string) (*Claim, error)
	// FindDuplicateClaims returns identifiers of other claims with the
	// same insuree, facility, and service date.
	FindDuplicateClaims(ctx context.Context, claim *Claim) ([]string, error)
	// GetActivePolicy returns the insuree's policy valid on the given date
	// (DateLayout format), or a NotFoundError when none is active.
	GetActivePolicy(ctx context.Context, chfID, onDate string) (*Policy, error)
	// UpdateRegistryField writes one field on a registry record. It is the
	// only mutation this service performs against the external system.
	UpdateRegistryField(ctx context.Context, targetModel, targetID, fieldName, value string) error
}
