// Package internal contains helper utilities that are intentionally private
// to sessionkit, including secure random generation used by the test core.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - core: HTTP querier for the remote auth core, with replica fallover
//   - coretest: in-process fake core backing the engine test suite
//   - flows: pure-function flow orchestrators for every Engine operation
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionkit API.
//   - Be imported by any package outside the sessionkit module.
package internal
