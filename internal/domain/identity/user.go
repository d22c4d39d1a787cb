package identity

import (
	"slices"
	"time"
)

// User is the primary user record. Its ID doubles as its partition.
type User struct {
	ID                   string     `json:"id"`
	Kind                 Kind       `json:"type"`
	UserName             string     `json:"userName"`
	NormalizedUserName   string     `json:"normalizedUserName,omitempty"`
	Email                string     `json:"email,omitempty"`
	NormalizedEmail      string     `json:"normalizedEmail,omitempty"`
	EmailConfirmed       bool       `json:"emailConfirmed"`
	PhoneNumber          string     `json:"phoneNumber,omitempty"`
	PhoneNumberConfirmed bool       `json:"phoneNumberConfirmed"`
	PasswordHash         string     `json:"passwordHash,omitempty"`
	SecurityStamp        string     `json:"securityStamp,omitempty"`
	TwoFactorEnabled     bool       `json:"twoFactorEnabled"`
	LockoutEnd           *time.Time `json:"lockoutEnd,omitempty"`
	LockoutEnabled       bool       `json:"lockoutEnabled"`
	AccessFailedCount    int        `json:"accessFailedCount"`
	Roles                []string   `json:"roles"`
	Logins               []Login    `json:"logins"`
	Tokens               []Token    `json:"tokens"`
	Claims               []Claim    `json:"claims"`
}

// NewUser creates a user with the given user name and empty collections.
func NewUser(userName string) *User {
	return &User{
		Kind:     KindUser,
		UserName: userName,
		Roles:    []string{},
		Logins:   []Login{},
		Tokens:   []Token{},
		Claims:   []Claim{},
	}
}

// UserRecord implements UserDocument.
func (u *User) UserRecord() *User {
	return u
}

// Normalize fills the normalized lookup fields from UserName and Email.
func (u *User) Normalize(n Normalizer) {
	u.NormalizedUserName = n.Normalize(u.UserName)
	u.NormalizedEmail = n.Normalize(u.Email)
}

// AddToRole records membership in a role by its normalized name. Adding twice is a no-op.
func (u *User) AddToRole(normalizedRoleName string) {
	if !slices.Contains(u.Roles, normalizedRoleName) {
		u.Roles = append(u.Roles, normalizedRoleName)
	}
}

// RemoveFromRole drops membership in a role.
func (u *User) RemoveFromRole(normalizedRoleName string) {
	u.Roles = slices.DeleteFunc(u.Roles, func(r string) bool { return r == normalizedRoleName })
}

// IsInRole reports membership in a role by normalized name.
func (u *User) IsInRole(normalizedRoleName string) bool {
	return slices.Contains(u.Roles, normalizedRoleName)
}

// AddClaims appends claims, skipping exact duplicates.
func (u *User) AddClaims(claims ...Claim) {
	for _, c := range claims {
		if !slices.Contains(u.Claims, c) {
			u.Claims = append(u.Claims, c)
		}
	}
}

// RemoveClaims drops every claim matching one of the given type/value pairs.
func (u *User) RemoveClaims(claims ...Claim) {
	u.Claims = slices.DeleteFunc(u.Claims, func(c Claim) bool { return slices.Contains(claims, c) })
}

// ReplaceClaim swaps every occurrence of old for replacement.
func (u *User) ReplaceClaim(old, replacement Claim) {
	for i, c := range u.Claims {
		if c == old {
			u.Claims[i] = replacement
		}
	}
}

// AddLogin links an external login. A second login for the same provider and key is ignored.
func (u *User) AddLogin(login Login) {
	if u.FindLogin(login.LoginProvider, login.ProviderKey) == nil {
		u.Logins = append(u.Logins, login)
	}
}

// RemoveLogin unlinks an external login.
func (u *User) RemoveLogin(loginProvider, providerKey string) {
	u.Logins = slices.DeleteFunc(u.Logins, func(l Login) bool {
		return l.LoginProvider == loginProvider && l.ProviderKey == providerKey
	})
}

// FindLogin returns the login for provider and key, or nil.
func (u *User) FindLogin(loginProvider, providerKey string) *Login {
	for i := range u.Logins {
		if u.Logins[i].LoginProvider == loginProvider && u.Logins[i].ProviderKey == providerKey {
			return &u.Logins[i]
		}
	}
	return nil
}

// SetToken stores or overwrites a token.
func (u *User) SetToken(loginProvider, name, value string) {
	for i := range u.Tokens {
		if u.Tokens[i].LoginProvider == loginProvider && u.Tokens[i].Name == name {
			u.Tokens[i].Value = value
			return
		}
	}
	u.Tokens = append(u.Tokens, Token{LoginProvider: loginProvider, Name: name, Value: value})
}

// GetToken returns the token value and whether it exists.
func (u *User) GetToken(loginProvider, name string) (string, bool) {
	for _, t := range u.Tokens {
		if t.LoginProvider == loginProvider && t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// RemoveToken drops a token.
func (u *User) RemoveToken(loginProvider, name string) {
	u.Tokens = slices.DeleteFunc(u.Tokens, func(t Token) bool {
		return t.LoginProvider == loginProvider && t.Name == name
	})
}

// IncrementAccessFailedCount bumps the failed-access counter and returns the new value.
func (u *User) IncrementAccessFailedCount() int {
	u.AccessFailedCount++
	return u.AccessFailedCount
}

// ResetAccessFailedCount zeroes the failed-access counter.
func (u *User) ResetAccessFailedCount() {
	u.AccessFailedCount = 0
}

// SetLockoutEnd sets or clears (nil) the lockout end, stored in UTC.
func (u *User) SetLockoutEnd(end *time.Time) {
	if end == nil {
		u.LockoutEnd = nil
		return
	}
	utc := end.UTC()
	u.LockoutEnd = &utc
}

// IsLockedOut reports whether lockout is enabled and still in effect at now.
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}
