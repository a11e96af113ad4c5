// Package payment defines the core types, error taxonomy, and ports shared by
// the checkout amount/currency extraction pipeline. Concrete implementations
// live in sibling packages (validator, render, extract, normalize, cache,
// policy/ratelimit) and are composed by internal/parser.
package payment
