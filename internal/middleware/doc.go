// Package middleware holds the HTTP middleware shared by the router and cell
// gateway: access logging, panic recovery and per-client rate limiting.
//
// Typical order on a chi router:
//
//	r.Use(chimw.RequestID, chimw.RealIP, middleware.Logging(logger), middleware.Recovery(logger))
//	r.With(limiter.Middleware).Post("/register", ...)
package middleware
