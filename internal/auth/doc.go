// Package auth issues and verifies cell-scoped capability tokens.
//
// # Tokens
//
// A token is a JWT carrying exactly two application claims, "username" and
// "cell", plus iat (and exp when auth.token_ttl is set). The router holds a
// Signer; every cell holds a JWTVerifier and checks tokens offline:
//
//	signer, _ := auth.LoadSigner(ctx, cfg.Auth, newSM)
//	token, _ := signer.Issue("alice", "cell-a")
//
//	verifier, _ := auth.LoadVerifier(ctx, cfg.Auth, newSM)
//	claims, err := verifier.Verify(token, "cell-a")
//
// # Schemes
//
//   - hs256: one shared secret (at least MinSecretLength bytes) signs and verifies
//   - eddsa: the router signs with an Ed25519 private key, cells only hold the public key
//
// Key material is resolved through the secrets package, so a key can live in
// config, a file, an environment variable or AWS Secrets Manager.
//
// # Errors
//
//   - ErrInvalidSignature: wrong key or wrong scheme
//   - ErrCellMismatch: valid token presented to another cell
//   - ErrMalformed: not a JWT, or missing username/cell
//   - ErrExpiredToken: exp is in the past
//
// # HTTP
//
// BearerMiddleware verifies the Authorization header and stores an
// AuthContext in the request context for handlers to read with FromContext.
package auth
