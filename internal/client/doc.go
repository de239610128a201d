// Package client is the Go client for the router and cell gateways.
//
//	c := client.New("https://router.example.com", 0)
//	session, err := c.Login(ctx, "alice", credential)
//	cell := c.Cell(session)
//	err = cell.Put(ctx, "color", "blue")
//
// Non-2xx responses are returned as *APIError, which matches ErrNotFound,
// ErrUnauthorized and the other sentinels with errors.Is.
package client
