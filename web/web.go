// Package web serves the dashboard single-page application from the edge.
package web

import (
	"context"
	"embed"
	"fmt"
	"html"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/togglehq/gatehouse/internal/util"
)

// dist holds the dashboard build. The frontend pipeline overwrites
// dist/index.html and adds its assets before release builds.
//
//go:embed all:dist
var content embed.FS

// Dist returns the embedded dashboard build rooted at dist/.
func Dist() (fs.FS, error) {
	fsys, err := fs.Sub(content, "dist")
	if err != nil {
		return nil, fmt.Errorf("loading embedded web assets: %w", err)
	}
	return fsys, nil
}

// NonceFunc returns the per-request CSP nonce. When nil, no nonce meta tag
// is injected into the HTML.
type NonceFunc func(r *http.Request) string

// Handler serves the SPA in fsys. Existing files are served as-is; any
// other path gets index.html so client-side routes survive a reload.
//
// When nonceFunc yields a value, index.html gets a
// <meta name="csp-nonce" content="..."> tag before </head>.
func Handler(fsys fs.FS, nonceFunc NonceFunc) (http.Handler, error) {
	indexBytes, err := fs.ReadFile(fsys, "index.html")
	if err != nil {
		return nil, fmt.Errorf("reading index.html: %w", err)
	}
	indexTemplate := string(indexBytes)

	static := http.FileServer(http.FS(fsys))

	serveIndex := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if nonceFunc != nil {
			if nonce := nonceFunc(r); nonce != "" {
				nonceTag := `<meta name="csp-nonce" content="` + html.EscapeString(nonce) + `">`
				w.Write([]byte(strings.Replace(indexTemplate, "</head>", nonceTag+"\n  </head>", 1)))
				return
			}
		}
		w.Write(indexBytes)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cleanPath := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if cleanPath == "" || cleanPath == "index.html" {
			serveIndex(w, r)
			return
		}
		if info, err := fs.Stat(fsys, cleanPath); err == nil && !info.IsDir() {
			static.ServeHTTP(w, r)
			return
		}
		// BrowserRouter deep-link fallback.
		serveIndex(w, r)
	}), nil
}

type nonceKey struct{}

// ContentSecurityPolicy generates a nonce per request, sets a CSP header
// that admits only same-origin and nonce-tagged scripts and styles, and
// exposes the nonce through Nonce.
func ContentSecurityPolicy(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nonce, err := util.RandomURLToken(16)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Security-Policy",
			"default-src 'self'; script-src 'self' 'nonce-"+nonce+"'; style-src 'self' 'nonce-"+nonce+
				"'; img-src 'self' data:; connect-src 'self'; frame-ancestors 'none'; base-uri 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), nonceKey{}, nonce)))
	})
}

// Nonce returns the nonce ContentSecurityPolicy stored on r, or "".
func Nonce(r *http.Request) string {
	n, _ := r.Context().Value(nonceKey{}).(string)
	return n
}
