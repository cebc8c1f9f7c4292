// Package partnerapi serves the partner portal: wallet sign-in, step-up
// challenges, key listing, and the secure-gated reveal and regenerate
// operations.
package partnerapi
