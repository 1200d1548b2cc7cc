// Package catalog is a client for the Immich media library API.
//
// Only the endpoints naps needs are covered: token validation, tag listing,
// random asset search and original asset download. Every response is decoded
// through a validating step so partial payloads fail fast with a
// MalformedResponseError instead of producing half-filled records.
package catalog
