package shield

import "net/http"

// MaxJSONBody returns middleware that caps the request body size for methods
// that carry one. Reads past the cap fail and net/http replies 413 when the
// handler calls http.Error via MaxBytesReader.
func MaxJSONBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
