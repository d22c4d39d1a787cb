// Package lookup maintains mapping documents that redirect a normalized
// secondary key (user name, email, role name) to the id of the primary record
// holding it. A mapping lives in the partition named by the key, so resolving
// it is a single-partition point read.
package lookup

// MappingKind tags a family of mapping documents. It is both the document id
// and its type discriminator, so families sharing a key never collide.
type MappingKind string

const (
	UserByUserName MappingKind = "user-by-username"
	UserByEmail    MappingKind = "user-by-email"
	RoleByName     MappingKind = "role-by-name"
)

// String returns the stored tag
func (k MappingKind) String() string {
	return string(k)
}

// Mapping is the body of a mapping document.
type Mapping struct {
	Partition string      `json:"partition"`
	ID        MappingKind `json:"id"`
	Kind      MappingKind `json:"type"`
	TargetID  string      `json:"targetId"`
}

// Outcome labels a secondary-key lookup for metrics.
type Outcome string

const (
	OutcomeHit      Outcome = "hit"
	OutcomeMiss     Outcome = "miss"
	OutcomeDangling Outcome = "dangling"
)

// Metrics receives mapping bookkeeping observations. Implementations must
// tolerate being called on a nil receiver.
type Metrics interface {
	RecordMappingOp(kind MappingKind, op string, err error)
	RecordLookup(kind MappingKind, outcome Outcome)
}
