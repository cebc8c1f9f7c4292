// Package gateway implements the access verification entry point upstream
// services call before serving a partner request.
//
// One call performs, in order: route resolution against the static
// route/scope/cost table, bearer key verification, scope resolution (key
// grants plus tier features), effective quota computation, atomic
// fixed-window rate accounting, and audit logging.
//
// Rate accounting is pay-then-reject: the window counter is incremented
// before the limit comparison and is not rolled back on rejection, so cost
// accounting stays monotonic and auditable even for over-limit attempts.
// Audit rows and last-used stamps are best-effort and never fail the
// decision.
package gateway
