// Package storage provides the durable object-store client that stages
// task inputs and outputs.
//
// The storage package presents a tree-oriented view of a flat,
// S3-compatible object store. A storage path is "bucket/key..."; a trailing
// separator marks an enumerable prefix (a directory tree) rather than a
// single object. Uploads also maintain zero-byte "dir/" placeholder
// objects, which fuse-style bucket mounts need to list directories quickly.
package storage
