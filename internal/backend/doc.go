// Package backend implements the registry storage contract on top of a
// blob.Store. A Backend owns registry-level state (the package name list, the
// secret and user tokens) and hands out a PackageStore per package name for
// metadata and tarball access. The same code serves both tiers: the local tier
// wraps an FSStore rooted at store_path, the remote tier wraps GCS or a second
// directory.
package backend
