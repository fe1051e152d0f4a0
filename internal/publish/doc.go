// Package publish turns an upload into a served site and takes it down again.
//
// The Coordinator owns the central invariant: a site record exists if and
// only if its directory under the publication root exists and is fully
// populated. Identity is reserved by creating the site directory with
// os.Mkdir, which either creates it or fails because it exists, so two
// publishes racing for the same alias cannot both win. From that point
// every failure removes the directory again before the error is returned,
// and the record is inserted last, only once the directory is complete.
//
// Failures leave the package as *Error values with a Kind. The kinds that
// describe the caller's input (see Kind.Public) carry a detail safe to
// show to clients; operational kinds are meant to be reported generically
// while the cause is logged.
package publish
