package identity

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/danghamo/docidentity/internal/domain/shared"
)

// Builder records the user and role types the identity framework was set up
// with, so store registration can fail fast on a mismatch.
type Builder struct {
	userType reflect.Type
	roleType reflect.Type
}

// AddIdentity declares the framework's user and role types. U and R are the
// struct types (identity.User or a struct embedding it), not pointers.
func AddIdentity[U any, R any]() *Builder {
	return &Builder{
		userType: reflect.TypeFor[U](),
		roleType: reflect.TypeFor[R](),
	}
}

// UserType returns the declared user type.
func (b *Builder) UserType() reflect.Type {
	return b.userType
}

// RoleType returns the declared role type.
func (b *Builder) RoleType() reflect.Type {
	return b.roleType
}

// CheckTypes verifies that the types handed to store registration match the declared ones.
func (b *Builder) CheckTypes(userType, roleType reflect.Type) error {
	if userType != b.userType {
		return typeMismatch("User", b.userType, userType)
	}
	if roleType != b.roleType {
		return typeMismatch("Role", b.roleType, roleType)
	}
	return nil
}

func typeMismatch(what string, declared, registered reflect.Type) error {
	return shared.NewDomainError(shared.ErrCodeTypeMismatch, fmt.Sprintf(
		"%s type passed to RegisterStores must match %s type passed to AddIdentity. "+
			"You passed %s to AddIdentity and %s to RegisterStores, these do not match.",
		what, strings.ToLower(what), declared, registered,
	))
}
