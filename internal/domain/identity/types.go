// Package identity holds the user and role records persisted by the stores,
// along with the embedded claim, login and token values they carry.
package identity

// Kind discriminates primary records sharing one collection.
type Kind string

const (
	KindUser Kind = "User"
	KindRole Kind = "Role"
)

// String returns the stored discriminator value
func (k Kind) String() string {
	return string(k)
}

// Claim is a type/value pair attached to a user or role.
type Claim struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Login links a user to an external login provider.
type Login struct {
	LoginProvider       string `json:"loginProvider"`
	ProviderKey         string `json:"providerKey"`
	ProviderDisplayName string `json:"providerDisplayName,omitempty"`
}

// Token is an authentication token stored on behalf of a login provider.
type Token struct {
	LoginProvider string `json:"loginProvider"`
	Name          string `json:"name"`
	Value         string `json:"value"`
}

// UserDocument is satisfied by *User and by any struct embedding User, which
// lets callers persist their own user type with extra fields.
type UserDocument interface {
	UserRecord() *User
}

// RoleDocument is the role counterpart of UserDocument.
type RoleDocument interface {
	RoleRecord() *Role
}
