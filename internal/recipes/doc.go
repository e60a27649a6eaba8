// Package recipes validates recipe requests and mediates datastore outcomes.
//
// Every operation follows the same sequence: validate the caller's input,
// invoke the storage.Repository with the request context, then translate the
// three-state storage.Outcome into a Result. Invalid input short-circuits
// before the datastore is reached. A missing record and a datastore failure
// are never conflated: the first becomes StatusNotFound and is logged at info
// level, the second becomes StatusInternalError and is logged at error level.
//
// The package holds no state between calls. Transport concerns such as
// routing and status codes live in internal/api.
package recipes
