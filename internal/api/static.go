package api

import (
	"net/http"
	"path"
)

// StaticFiles serves regular files below root. Requests that do not map to a
// file fall through to next; directories are never listed.
func StaticFiles(root string) func(http.Handler) http.Handler {
	fs := http.Dir(root)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			name := path.Clean("/" + r.URL.Path)
			f, err := fs.Open(name)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil || !info.Mode().IsRegular() {
				next.ServeHTTP(w, r)
				return
			}

			http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		})
	}
}
