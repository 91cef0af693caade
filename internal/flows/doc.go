// Package flows holds the pure-function orchestrators behind the public
// Engine: session verification, refresh rotation, and account-linking
// decisions. Each flow takes its dependencies as data (a Deps struct of
// funcs and narrow interfaces) and returns a Result carrying a failure kind
// the root package maps onto its error taxonomy. Flows never touch global
// state and never import the root package.
package flows
