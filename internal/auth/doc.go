// Package auth stores scrypt password hashes for the RFC 1929
// username/password method.
package auth
