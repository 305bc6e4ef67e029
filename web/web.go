// Package web embeds the operator console served on the local network.
package web

import (
	"embed"
	"io/fs"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// GetTemplatesFS returns the page templates (console.html, login.html)
func GetTemplatesFS() fs.FS {
	return mustSub(templatesFS, "templates")
}

// GetStaticFS returns the console's css and js, served under /static/
func GetStaticFS() fs.FS {
	return mustSub(staticFS, "static")
}

// mustSub panics when dir is missing from the embedded tree, which only a
// broken build can cause.
func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
