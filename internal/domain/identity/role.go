package identity

import "slices"

// Role is the primary role record. Its ID doubles as its partition.
type Role struct {
	ID             string  `json:"id"`
	Kind           Kind    `json:"type"`
	Name           string  `json:"name"`
	NormalizedName string  `json:"normalizedName,omitempty"`
	Claims         []Claim `json:"claims"`
}

// NewRole creates a role with the given name.
func NewRole(name string) *Role {
	return &Role{Kind: KindRole, Name: name, Claims: []Claim{}}
}

// RoleRecord implements RoleDocument.
func (r *Role) RoleRecord() *Role {
	return r
}

// Normalize fills NormalizedName from Name.
func (r *Role) Normalize(n Normalizer) {
	r.NormalizedName = n.Normalize(r.Name)
}

// AddClaim appends a claim unless an identical one is present.
func (r *Role) AddClaim(c Claim) {
	if !slices.Contains(r.Claims, c) {
		r.Claims = append(r.Claims, c)
	}
}

// RemoveClaim drops every claim equal to c.
func (r *Role) RemoveClaim(c Claim) {
	r.Claims = slices.DeleteFunc(r.Claims, func(x Claim) bool { return x == c })
}
