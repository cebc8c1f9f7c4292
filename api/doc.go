// Package api holds the HTTP plumbing shared by the handler packages:
// session authentication middleware, request-context principals, JSON
// response helpers and the sentinel-error to status-code mapping.
package api
