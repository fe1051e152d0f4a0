// Package httpmw holds the request middleware shared by the public and
// admin listeners.
//
// httpserver.NewHandler composes them outermost first: security headers,
// panic recovery, request id, client ip, rate limiting, tracing, trace
// response headers, metrics and the request logger. Inside the router
// come compression, route annotation, the access log and the body limit.
//
// Client ip must resolve before anything keys on it, and the logger sits
// inside tracing so its records carry trace_id. Headers set outside the
// router can be overridden by handlers, which is how published sites get
// their sandbox policy. Query values other than the raw query string and
// headers such as user-agent stay out of logs.
package httpmw
