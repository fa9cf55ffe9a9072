// Package uplink pulls package metadata and tarballs from an upstream npm
// registry into the local store directory.
//
// A Syncer is built per request. SyncMetadata merges the upstream document into
// the local package.json, BatchSyncTarball downloads the selected versions
// concurrently and reports one TarballResult per version. Upstream calls go
// through retry.Executor; every file lands on disk through atomicfile.
package uplink
