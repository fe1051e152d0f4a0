// Package archive turns an untrusted upload into a directory of static files.
//
// Uploads are first spooled to disk with [Spool], which enforces the size
// limit and records the SHA-256 of what was received. ZIP uploads are then
// expanded with [ExtractZip], one entry at a time, every entry name passing
// through [pathutil.SafeJoin]; single files are copied with [CopyFile].
// [Normalize] collapses one superfluous wrapping directory afterwards.
//
// Extraction is all or nothing from the caller's point of view: the first
// bad entry stops it and the destination is left for the caller to discard.
// Content problems are reported as [ErrMalformed], oversized uploads as
// [ErrTooLarge]; anything else is an I/O or cancellation error.
package archive
