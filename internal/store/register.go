package store

import (
	"reflect"

	"github.com/danghamo/docidentity/internal/docstore"
	"github.com/danghamo/docidentity/internal/domain/identity"
)

// Stores is the pair of stores registered for one identity setup.
type Stores[U any, R any, PU interface {
	*U
	identity.UserDocument
}, PR interface {
	*R
	identity.RoleDocument
}] struct {
	Users *UserStore[U, PU]
	Roles *RoleStore[R, PR]
}

// Register builds the user and role stores over one shared client after
// checking that U and R are the types b was declared with.
func Register[U any, R any, PU interface {
	*U
	identity.UserDocument
}, PR interface {
	*R
	identity.RoleDocument
}](b *identity.Builder, client docstore.Client, opts ...Option) (*Stores[U, R, PU, PR], error) {
	if err := b.CheckTypes(reflect.TypeFor[U](), reflect.TypeFor[R]()); err != nil {
		return nil, err
	}

	return &Stores[U, R, PU, PR]{
		Users: NewUserStore[U, PU](client, opts...),
		Roles: NewRoleStore[R, PR](client, opts...),
	}, nil
}
