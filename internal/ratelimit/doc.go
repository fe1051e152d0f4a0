// Package ratelimit keeps one token bucket per client IP in front of the
// public listener. The server runs two limiters: a general one for every
// request, including site reads, and a tighter one for uploads and deletes,
// since each publish spools and extracts an archive to disk.
//
// Buckets live in memory on one instance and idle ones are evicted in the
// background. Clients spread across many addresses, or an operator running
// several instances, need limiting upstream as well.
package ratelimit
