// Package gateway is the cell gateway: the front door of one cell.
//
// # Overview
//
// A gateway serves per-user key/value items from its cell's own store. It
// never calls the router. Every request carries a capability token which the
// gateway verifies offline against its cell id:
//
//	svc := gateway.NewService(cfg.Cell.ID, verifier, items)
//	handler := gateway.NewHandler(svc, gateway.HandlerOptions{...})
//
// # Isolation
//
// The username used as the storage key always comes from the verified token,
// never from the request body, so one user cannot reach another user's items
// and a token issued for another cell is rejected with ErrUnauthorized.
//
// # Endpoints
//
//   - POST /put {key, value}
//   - POST /get {key} -> {value}, 404 when absent
//   - POST /delete {key}, idempotent
//   - GET|POST /validate -> {username, cell_id}
//   - GET /health, /health/ready, /metrics
package gateway
