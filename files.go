package accounts

import (
	"embed"
	"io/fs"
)

//go:embed data/sql/migrations
var migrationsFS embed.FS

//go:embed data/mail
var mailFS embed.FS

//go:embed views
var viewsFS embed.FS

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// GetMailTemplatesFS returns the mail templates rooted at data/mail
func GetMailTemplatesFS() fs.FS {
	sub, err := fs.Sub(mailFS, "data/mail")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetViewsFS returns the HTML views rooted at views
func GetViewsFS() fs.FS {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	return sub
}
