// Package identity authenticates the actor behind a lifecycle request.
//
// It provides:
//   - TokenIssuer   — issues and verifies HS256 actor tokens
//   - RequireActor  — Gin middleware enforcing a Bearer actor token
//   - ActorFromCtx  — the verified claims as an fsm.Context
//
// Actor id, role and owning entity always come from a verified token, never
// from a request body.
package identity
