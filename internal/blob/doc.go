// Package blob defines the named-blob store both storage tiers are built on.
// Keys are slash separated paths relative to the store root, for example
// "left-pad/package.json" or "@corp/util/util-1.0.0.tgz". Writes are atomic:
// readers never observe a partially written blob. FSStore keeps blobs on local
// disk (temp file + rename); GCSStore keeps them in a Cloud Storage bucket.
package blob
