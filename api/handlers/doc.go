// Copyright (c) Gateway Authors.
// Licensed under the MIT License.

/*
Package handlers implements the gateway's HTTP request handlers: the chat
completions ingress (ChatHandler, the only externally-documented endpoint)
plus health/readiness probes and the shared response/error plumbing they
both use.

# Core types

  - ChatHandler    — /v1/chat/completions ingress: auth, routing, caching,
    dispatch, normalization, and always-enqueue logging, both unary and SSE.
  - HealthHandler  — liveness/readiness probes (/health, /healthz, /ready).
  - Response       — generic JSON envelope used by non-chat endpoints.
  - ErrorInfo      — structured error info (code, message, retryable).
  - ResponseWriter — wraps http.ResponseWriter to capture the status code.
  - HealthCheck    — pluggable health check interface (database, cache).
*/
package handlers
