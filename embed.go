package examtutor

import "embed"

// TemplateFS holds the server-rendered HTML templates.
//
//go:embed templates
var TemplateFS embed.FS

// StaticFS holds the static assets served under /static.
//
//go:embed static
var StaticFS embed.FS
