// Package api provides the wire types and documentation for the gateway's
// HTTP surface.
//
// # API Overview
//
// The gateway exposes one documented endpoint:
//   - POST /v1/chat/completions — OpenAI-compatible chat completions,
//     unary or streamed via SSE, routed across whichever upstream
//     provider the request resolves to.
//
// Plus liveness/readiness probes under /health, /healthz, /ready.
//
// # Authentication
//
// Requests are authenticated via a bearer API key:
//
//	Authorization: Bearer <api-key>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
