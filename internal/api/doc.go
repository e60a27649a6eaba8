// Package api hosts the HTTP handlers that front the recipe service.
//
// Handlers decode requests, hand them to a recipes.Service injected at
// construction time and render the returned recipes.Result. They never talk
// to storage directly and never decide an outcome themselves: validation and
// outcome mediation happen in the service, and the only statuses produced
// here are 405 for unsupported methods and 404 for unknown sub-resources.
//
// Handlers assume upstream middleware from internal/server has already
// attached a request id, a request-scoped logger, metrics and rate limiting.
package api
