package recovery

import (
	"net/http"

	configv1 "github.com/relaycache/relaycache/api/defined/v1/middleware"
	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/pkg/x/runtime"
	"github.com/relaycache/relaycache/server/middleware"
)

func init() {
	middleware.Register("recovery", Middleware)
}

type middlewareOption struct{}

func Middleware(c *configv1.Middleware) (middleware.Middleware, func(), error) {
	var opts middlewareOption
	if err := c.Unmarshal(&opts); err != nil {
		return nil, nil, err
	}

	return func(origin http.RoundTripper) http.RoundTripper {
		return middleware.RoundTripperFunc(func(req *http.Request) (resp *http.Response, err error) {
			defer func() {
				if r := recover(); r != nil {
					// Here you can log the panic or handle it as needed
					log.Context(req.Context()).Errorf("middleware recovery: %s \n%s", r, runtime.PrintStackTrace(4))
				}
			}()

			return origin.RoundTrip(req)
		})
	}, middleware.EmptyCleanup, nil
}
