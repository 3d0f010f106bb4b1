package logging

import (
	"net/http"

	"github.com/relaycache/relaycache/contrib/log"
)

// Logging wraps next, logging method and path for every request this
// backend stub receives.
func Logging(next http.Handler) http.HandlerFunc {
	helper := log.NewHelper(log.GetLogger())
	return func(w http.ResponseWriter, r *http.Request) {
		helper.Infof("%s %s", r.Method, r.URL.String())

		next.ServeHTTP(w, r)
	}
}
