package accounts

import (
	"maps"

	"github.com/goliatone/go-router"
)

// TemplateUserKey is the locals and view key holding the signed in user
var TemplateUserKey = "current_user"

// MergeTemplateData adds the signed in user to data so every view can
// render the navigation
func MergeTemplateData(ctx router.Context, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	maps.Copy(out, data)

	if user, ok := CurrentUser(ctx); ok {
		out[TemplateUserKey] = user
		out["is_authenticated"] = true
	} else {
		out["is_authenticated"] = false
	}

	return out
}
