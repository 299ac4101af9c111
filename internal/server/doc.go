// Package server provides an optional HTTP endpoint for monitoring a
// running sync loop.
//
// # Endpoints
//
//   - GET /healthz - 200 while cycles succeed, 503 once the failure streak
//     reaches the threshold
//   - GET /status - task counts per state, the sync cursor and the last
//     cycle's stats
//
// # Authentication
//
// When a token is configured, /status requires it in the Authorization
// header as "Bearer <token>". /healthz is always public so that process
// supervisors can poll it.
package server
