// ABOUTME: Package documentation for the HTTP gateway
// ABOUTME: Lists routes, streaming behavior, and auth wiring

// Package gateway serves the world runtime over HTTP.
//
// # Overview
//
// The Gateway owns the HTTP server, the [world.Registry], and the store.
// Every world-scoped request subscribes to its world for the duration of the
// request, so a world stays loaded while any request or stream is using it
// and unloads when the last one finishes.
//
// # HTTP API
//
//	GET    /health                                   liveness
//	GET    /health/ready                             store reachable
//	GET    /metrics                                  Prometheus (metrics.path)
//
//	GET    /api/worlds                               list worlds
//	POST   /api/worlds                               create a world
//	GET    /api/worlds/{world}                       one world
//	DELETE /api/worlds/{world}                       delete (409 while loaded)
//
//	GET    /api/worlds/{world}/agents                list agents
//	POST   /api/worlds/{world}/agents                create an agent
//	DELETE /api/worlds/{world}/agents/{agent}        delete an agent
//	DELETE /api/worlds/{world}/agents/{agent}/memory clear memory
//
//	GET    /api/worlds/{world}/chats                 list chats
//	POST   /api/worlds/{world}/chats                 new chat (reuses an empty current chat)
//	POST   /api/worlds/{world}/chats/{chat}/restore  make a chat current
//	DELETE /api/worlds/{world}/chats/{chat}          delete a chat
//	GET    /api/worlds/{world}/chats/{chat}/export   transcript, ?format=md|html
//
//	POST   /api/worlds/{world}/messages              send a message
//	DELETE /api/worlds/{world}/chats/{chat}/messages/{message}
//	                                                 remove a message and what follows it
//
//	POST   /api/worlds/{world}/tools/check           run a tool call through approval
//	GET    /api/worlds/{world}/approvals?agent=      pending approval requests
//	POST   /api/worlds/{world}/approvals             submit a decision
//
//	GET    /api/worlds/{world}/events                event log, ?chat=&types=&since_seq=&limit=
//	GET    /api/worlds/{world}/stream                live SSE, ?topic=&chat=&agent=
//	GET    /api/worlds/{world}/ws                    live WebSocket, same parameters
//
// # Streaming
//
// SSE streams send a "ready" event, then one event per bus event named by
// its type, with ": ping" comments as keepalive. WebSocket streams send the
// same content as JSON frames {"type": ..., "event": ...}. Slow readers lose
// events rather than stalling the bus; clients catch up through the events
// endpoint with since_seq.
//
// # Authentication
//
// With auth.jwt_secret set, /api routes require a bearer token (or
// access_token query parameter). Tokens carrying a worlds claim are limited
// to those worlds.
package gateway
