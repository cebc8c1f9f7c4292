// Package routeconfig holds the static mapping from protected upstream
// routes to the scope they require and the quota units they cost. The table
// is assembled once at startup and validated before serving; every access
// verification resolves against it.
package routeconfig

import (
	"fmt"
)

// Route is one protected upstream route.
type Route struct {
	Path  string
	Scope string
	Cost  int64
}

// Table maps route paths to their configuration.
type Table struct {
	routes map[string]Route
}

// New builds a table from the given routes, rejecting duplicates, empty
// scopes and negative costs.
func New(routes []Route) (Table, error) {
	m := make(map[string]Route, len(routes))
	for _, r := range routes {
		if r.Path == "" {
			return Table{}, fmt.Errorf("route with empty path")
		}
		if r.Scope == "" {
			return Table{}, fmt.Errorf("route %s has no scope", r.Path)
		}
		if r.Cost < 0 {
			return Table{}, fmt.Errorf("route %s has negative cost %d", r.Path, r.Cost)
		}
		if _, dup := m[r.Path]; dup {
			return Table{}, fmt.Errorf("duplicate route %s", r.Path)
		}
		m[r.Path] = r
	}
	return Table{routes: m}, nil
}

// Lookup resolves a route path.
func (t Table) Lookup(path string) (Route, bool) {
	r, ok := t.routes[path]
	return r, ok
}

// Len reports the number of configured routes.
func (t Table) Len() int { return len(t.routes) }

// Scope names granted to faucet/passport products.
const (
	ScopeAutoFaucetDrip     = "autofaucet:drip"
	ScopeFaucetCheckEVM     = "faucet:check-EVM"
	ScopeFaucetCheckHedera  = "faucet:check-hedera"
	ScopeFaucetClaim        = "faucet:drip"
	ScopePassportScore      = "passport:score"
	ScopeFaucetTransactions = "faucet:transactions"
)

// Default returns the production route table.
func Default() Table {
	t, err := New([]Route{
		{Path: "/api/autofaucet/drip", Scope: ScopeAutoFaucetDrip, Cost: 1},
		{Path: "/api/autofaucet/finalize", Scope: ScopeAutoFaucetDrip, Cost: 0},
		{Path: "/api/faucet/check-EVM", Scope: ScopeFaucetCheckEVM, Cost: 1},
		{Path: "/api/faucet/check-hedera", Scope: ScopeFaucetCheckHedera, Cost: 1},
		{Path: "/api/faucet/faucet-claim", Scope: ScopeFaucetClaim, Cost: 1},
		{Path: "/api/passport/score", Scope: ScopePassportScore, Cost: 1},
		{Path: "/api/transactions", Scope: ScopeFaucetTransactions, Cost: 1},
		{Path: "/api/transactions/account", Scope: ScopeFaucetTransactions, Cost: 1},
	})
	if err != nil {
		panic(err) // static table, validated at init
	}
	return t
}
