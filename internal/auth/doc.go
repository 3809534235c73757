// ABOUTME: Package documentation for API authentication
// ABOUTME: HS256 bearer tokens with optional world scoping

// Package auth provides bearer token authentication for the agentworld HTTP API.
//
// # Tokens
//
// Tokens are HS256 JWTs signed with auth.jwt_secret. The "sub" claim names
// the caller and an optional "worlds" claim limits the worlds it can reach:
//
//	v, err := auth.NewJWTVerifier(secret)
//	token, err := v.Generate("ops", 24*time.Hour, "lab")
//
// # Middleware
//
// [HTTPAuthMiddleware] verifies the token from the Authorization header, or
// from the access_token query parameter when the header is absent, and stores
// an [AuthContext] on the request. [RequireWorldAccess] checks the scope
// against the {world} path value.
//
// With no secret configured the server passes a nil verifier and the API is
// open, which suits a single local process.
package auth
