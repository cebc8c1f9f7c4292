// Package verifyapi serves the machine-to-machine access verification
// endpoint upstream services call with a partner's API key.
package verifyapi
