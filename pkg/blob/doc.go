/*
Package blob stores payload files on disk addressed by SHA-256 digest.

Both the controller's file store and the runner's local cache are the
same layout: one directory, one file per blob named by its digest hex.
Content is hashed while streaming to a temp file and renamed into place,
so a partially written blob is never visible under its final name and a
second Put of identical content is a no-op. Digest-addressing is what
makes runner-side caching safe: a file that verifies never needs to be
fetched again.
*/
package blob
