package i18n

import "net/http"

// Middleware injects a per-request localizer into the request context.
// Language preference comes from the "lang" query parameter, then the
// Accept-Language header, then the configured default.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" {
				prefs = append(prefs, q)
			}
			if h := r.Header.Get("Accept-Language"); h != "" {
				prefs = append(prefs, h)
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(prefs...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
