package accounts

import (
	"context"

	"github.com/goliatone/go-router"
)

var userCtxKey = &contextKey{"user"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// CurrentUser returns the signed in user stored by SessionMiddleware
func CurrentUser(ctx router.Context) (*User, bool) {
	if user, ok := ctx.Locals(TemplateUserKey).(*User); ok && user != nil {
		return user, true
	}
	return nil, false
}
