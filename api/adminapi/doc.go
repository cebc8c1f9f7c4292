// Package adminapi serves the operator surface: admin wallet sign-in and
// partner onboarding.
package adminapi
