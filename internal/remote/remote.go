// Package remote speaks to the authoritative document store holding the
// user's library. It provides the HTTP [Client] implementing the sync
// engine's collection port, a 3-attempt exponential-backoff [Retry] helper,
// and a connectivity [Probe].
package remote

// MetaDocID is the sentinel document inside the collection that carries the
// collection-level lastModified stamp. It is filtered out of ReadAll results.
const MetaDocID = "__meta__"
