// Package api hosts the HTTP handlers that front the Coursedeck REST API.
//
// The handlers assembled by Handler coordinate request validation, identity
// resolution, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. Token
// verification is provided by an auth.TokenVerifier passed into the handler;
// the package does not reach for globals or singletons and expects callers to
// supply fully configured dependencies.
//
// The chunk assembler and object store client are also injected so upload
// reassembly and media streaming can be exercised without coupling the
// package to specific runtime wiring. Handler implementations assume upstream
// middleware from internal/server has already enforced rate limiting, metrics,
// and logging concerns; authentication happens once per request in the access
// gate middleware, and handlers read the resolved account from the request
// context rather than re-verifying credentials.
package api
