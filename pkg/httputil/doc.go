// Package httputil holds the JSON reply helpers, query parsing and common
// middleware shared by the herohooks HTTP surfaces.
//
// Error replies always have the shape {"error": "..."}:
//
//	httputil.WriteBadRequest(w, "type is required")
//	httputil.WriteForbidden(w, "ip blocked")
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.RecoveryMiddleware(logger),
//		httputil.LoggingMiddleware(logger),
//	)(router)
package httputil
