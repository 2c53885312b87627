package web

import "embed"

// FS holds the dashboard UI: a canvas that plots scan points from /ws.
//
//go:embed *.html *.css *.js
var FS embed.FS
