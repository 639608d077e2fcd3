// Package cache keeps a local copy of a paginated remote collection in step with the remote.
//
// A [Synchronizer] decides, per page request, whether the cached prefix already covers the page, whether the
// collection has expired and must be hard refreshed, or which remote pages must be fetched and appended.
// It knows nothing about what the items are: storage sits behind [Collection] and the network behind [FetchFunc].
//
// Callers serialize EnsurePage per collection; the synchronizer holds no locks of its own.
package cache
