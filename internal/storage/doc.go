// Package storage routes package operations between the local tier (this
// node's warm cache) and the remote tier (the durable store).
//
// A package is private when its name matches one of the configured
// private_packages globs. Public packages live only on the local tier. Private
// packages are written to and read from the remote tier; a remote tarball read
// is mirrored into the local tier while it streams to the caller, so the next
// read is served locally.
//
// Database composes both tiers: the package list, secret and tokens are
// remote-only, search walks the local tier, and PackageStorage returns a Router
// bound to one package name.
package storage
