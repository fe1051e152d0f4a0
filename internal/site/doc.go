// Package site holds the published-site record and the pure functions that
// derive its identity and public URL.
//
// A [Kind] is decided once from the submitted filename and threaded through
// the rest of the pipeline; nothing downstream re-inspects the extension.
// [CandidateID] turns an optional alias into a filesystem- and URL-safe id,
// and [URL] maps a stored record to the path the static handler serves.
package site
