package engine

import (
	"context"

	"github.com/relaycache/relaycache/session"
)

type sessionCtxKey struct{}

// reqContext returns the context collaborators should use for the
// duration of one state handler call. Bound to the live HTTP request's
// own context when one is parsed, so a client disconnect cancels
// in-flight Hash/Fetcher/Storage calls. The session itself is carried
// alongside so a collaborator that must park the caller (Hash.Lookup,
// on a busy collision) can recover it without this package exposing a
// session parameter on every interface method.
func reqContext(sess *session.Session) context.Context {
	base := context.Background()
	if sess.Req != nil && sess.Req.HTTP != nil {
		base = sess.Req.HTTP.Context()
	}
	return context.WithValue(base, sessionCtxKey{}, sess)
}

// SessionFromContext recovers the *session.Session a collaborator call
// was made on behalf of, from a context built by reqContext. Returns
// nil for any other context.
func SessionFromContext(ctx context.Context) *session.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(*session.Session)
	return sess
}
