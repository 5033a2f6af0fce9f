// Package authz implements the C4 authorization oracle of §4.4: given a
// caller, a draft, and the resolved live catalog, it decides per-name
// capabilities. The default implementation resolves role grants the
// way the teacher's authn service issues JWT-encoded role claims
// (authn/main.go), decoded here with golang-jwt.
package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/estuary/flow-controller/internal/errs"
	"github.com/estuary/flow-controller/internal/models"
	"github.com/estuary/flow-controller/internal/store"
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Oracle is the C4 contract: decide per-name capability for userID
// against the drafted names and the referenced (read/write) names of
// the resolved live catalog.
type Oracle interface {
	Authorize(ctx context.Context, userID string, draft models.Draft, live store.LiveCatalog) (Decision, error)
}

// Decision is the per-name capability map plus any authorization
// errors discovered, each carrying a synthetic scope (§4.4).
type Decision struct {
	Capabilities map[string]store.Capability // keyed by Name.Fold()
	Errors       []*errs.AuthorizationDenied
}

// Grant is one subject-role -> object-role capability grant, the shape
// persisted in role_grants / user_grants (§6).
type Grant struct {
	Subject    string // a role prefix, or a literal "user:<id>"
	ObjectRole string // a role prefix this grant applies to
	Capability store.Capability
}

// GrantSource resolves the grants that apply to a user, abstracting
// over role_grants/user_grants storage.
type GrantSource interface {
	GrantsForUser(ctx context.Context, userID string) ([]Grant, error)
}

// RoleOracle is the default Oracle, applying the rule-set of §4.4 over
// grants from a GrantSource, cached per user since grants change
// rarely relative to publication volume.
type RoleOracle struct {
	grants GrantSource
	cache  *lru.Cache[string, []Grant]
}

// NewRoleOracle returns a RoleOracle sourcing grants from src.
func NewRoleOracle(src GrantSource) (*RoleOracle, error) {
	cache, err := lru.New[string, []Grant](1024)
	if err != nil {
		return nil, fmt.Errorf("constructing role grant cache: %w", err)
	}
	return &RoleOracle{grants: src, cache: cache}, nil
}

func (o *RoleOracle) grantsFor(ctx context.Context, userID string) ([]Grant, error) {
	if g, ok := o.cache.Get(userID); ok {
		return g, nil
	}
	g, err := o.grants.GrantsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	o.cache.Add(userID, g)
	return g, nil
}

// InvalidateUser drops the cached grants for userID, for use after a
// grant change.
func (o *RoleOracle) InvalidateUser(userID string) { o.cache.Remove(userID) }

// best returns the strongest capability userID's grants confer over
// name, or "" if none.
func best(grants []Grant, name models.Name) store.Capability {
	var prefix = name.RolePrefix()
	var strongest store.Capability
	for _, g := range grants {
		if !strings.HasPrefix(prefix, g.ObjectRole) {
			continue
		}
		if rank(g.Capability) > rank(strongest) {
			strongest = g.Capability
		}
	}
	return strongest
}

func rank(c store.Capability) int {
	switch c {
	case store.CapabilityAdmin:
		return 3
	case store.CapabilityWrite:
		return 2
	case store.CapabilityRead:
		return 1
	default:
		return 0
	}
}

func atLeast(have, want store.Capability) bool { return rank(have) >= rank(want) }

// Authorize implements Oracle per §4.4's rule set:
//   - every drafted name requires admin.
//   - every referenced (read) source requires >= read, unless it is a
//     well-known ops/* collection.
//   - every referenced (write) target requires >= write.
//   - touch publications (is_touch=true, byte-equal model) are exempt
//     from the admin requirement on the target (§4.6 tie-break).
func (o *RoleOracle) Authorize(ctx context.Context, userID string, draft models.Draft, live store.LiveCatalog) (Decision, error) {
	var grants, err = o.grantsFor(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolving grants for %s: %w", userID, err)
	}

	var dec = Decision{Capabilities: make(map[string]store.Capability)}
	var drafted = make(map[string]models.DraftSpec)
	for _, d := range draft.AllSpecs() {
		drafted[d.Name.Fold()] = d
	}

	for _, d := range draft.AllSpecs() {
		var cap = best(grants, d.Name)
		dec.Capabilities[d.Name.Fold()] = cap
		if d.IsTouch {
			// A touch publication doesn't require admin on the target, provided
			// its model equals the current live model (§4.6).
			if l, ok := live.Get(d.Name); ok && d.Model != nil && l.Model != nil && jsonpatch.Equal(d.Model, l.Model) {
				continue
			}
		}
		if !atLeast(cap, store.CapabilityAdmin) {
			dec.Errors = append(dec.Errors, &errs.AuthorizationDenied{
				Scope:      fmt.Sprintf("%s://%s", d.Type, d.Name),
				Capability: string(store.CapabilityAdmin),
			})
		}
	}

	var referenced = make(map[string]models.Name)
	var writeTargets = make(map[string]bool)
	for _, spec := range live.ByName {
		for _, r := range spec.ReadsFrom {
			referenced[r.Fold()] = r
		}
		for _, w := range spec.WritesTo {
			referenced[w.Fold()] = w
			writeTargets[w.Fold()] = true
		}
	}

	for fold, name := range referenced {
		if _, isDrafted := drafted[fold]; isDrafted {
			continue // already checked above at admin level.
		}
		if models.IsOpsCollection(name) {
			continue
		}
		var cap = best(grants, name)
		dec.Capabilities[fold] = cap
		var want = store.CapabilityRead
		if writeTargets[fold] {
			want = store.CapabilityWrite
		}
		if !atLeast(cap, want) {
			dec.Errors = append(dec.Errors, &errs.AuthorizationDenied{
				Scope:      fmt.Sprintf("collection://%s", name),
				Capability: string(want),
			})
		}
	}

	return dec, nil
}

// TokenClaims is the shape of role claims issued by the caller-identity
// token, mirrored from the teacher's authn service.
type TokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// ParseCallerIdentity decodes a caller identity token (already verified
// upstream by the façade out of scope per §1) into a user id, without
// re-verifying the signature — the controller trusts the façade's
// verification and only needs the subject claim for grant lookups.
func ParseCallerIdentity(tokenString string) (string, error) {
	var claims TokenClaims
	var parser = jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return "", fmt.Errorf("parsing caller identity: %w", err)
	}
	return claims.Subject, nil
}
