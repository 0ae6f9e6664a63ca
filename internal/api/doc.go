// Package api exposes the HTTP surface of the service.
//
// All business endpoints live under /api/v1 behind the middleware stack
// (recovery, request id, logging, CORS, per-IP rate limiting, identity).
// Health probes are registered outside the stack so load balancers are never
// rate limited or logged per request.
//
// Identity is supplied by an upstream identity provider through the
// X-User-ID header. The edge is trusted to have verified it; this service
// only authorizes access to resources against that identity.
//
// Endpoints:
//
//	POST   /api/v1/chat/sessions                create a session for a subject
//	GET    /api/v1/chat/sessions                list the caller's sessions
//	GET    /api/v1/chat/sessions/{id}/messages  conversation history
//	POST   /api/v1/chat/sessions/{id}/messages  send a message, answer via SSE
//	DELETE /api/v1/chat/sessions/{id}           delete a session
//	GET    /api/v1/chat/stats                   store statistics
//	GET    /health, GET /ready                  probes, outside the stack
package api
