package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
)

var (
	ErrEmptyRouteTable    = errors.New("routing table has no routes")
	ErrBadRoutePath       = errors.New("route path must be non-empty with no leading or trailing slash")
	ErrDuplicateRoutePath = errors.New("route path appears more than once")
	ErrBadLifetime        = errors.New("route object lifetime must be a positive number of days")
	ErrMissingConsumer    = errors.New("route has no consumer id")
)

// RouteConfig is one entry of the routing table: a drop-off subfolder, the
// retention applied to objects beneath it, whether arrivals are
// content-validated before forwarding, and the downstream consumer that
// receives them.
type RouteConfig struct {
	Path               string `json:"path"`
	ObjectLifetimeDays int    `json:"objectLifetimeDays"`
	ValidateArrivals   bool   `json:"validateArrivals"`
	ConsumerID         string `json:"consumerId"`
}

// RouteShadow records a declaration-order conflict: every key under Route
// matches Winner first, so Route can never win a lookup.
type RouteShadow struct {
	Route  string
	Winner string
}

// RouteTable is the ordered collection of routes. Lookup is first match in
// declaration order. The table is immutable once parsed and safe to share.
type RouteTable struct {
	routes []RouteConfig
}

// ParseRouteTable decodes a routing table from its JSON form and validates
// every entry. Shadowed routes are legal but almost certainly a mistake, so
// they are reported in the log rather than rejected.
func ParseRouteTable(blob []byte) (*RouteTable, error) {

	var routes []RouteConfig
	if err := json.Unmarshal(blob, &routes); err != nil {
		return nil, fmt.Errorf("routing table is not valid JSON: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrEmptyRouteTable
	}

	seen := make(map[string]bool)
	for ix, route := range routes {
		if badRoutePath(route.Path) {
			return nil, fmt.Errorf("%w: route %d path [%s]", ErrBadRoutePath, ix, route.Path)
		}
		if seen[route.Path] {
			return nil, fmt.Errorf("%w: route %d path [%s]", ErrDuplicateRoutePath, ix, route.Path)
		}
		seen[route.Path] = true

		if route.ObjectLifetimeDays <= 0 {
			return nil, fmt.Errorf("%w: route [%s] specifies %d", ErrBadLifetime, route.Path, route.ObjectLifetimeDays)
		}
		if len(route.ConsumerID) == 0 {
			return nil, fmt.Errorf("%w: route [%s]", ErrMissingConsumer, route.Path)
		}
		if _, _, err := ParseConsumerID(route.ConsumerID); err != nil {
			return nil, fmt.Errorf("route [%s]: %w", route.Path, err)
		}
	}

	table := &RouteTable{routes: routes}
	for _, shadow := range table.Shadowed() {
		log.Warn().Msgf("route [%s] is shadowed by earlier route [%s] and can never match", shadow.Route, shadow.Winner)
	}

	return table, nil
}

// badRoutePath rejects paths that would break prefix matching: empty paths,
// leading or trailing slashes, empty interior segments and dot segments.
func badRoutePath(routePath string) bool {
	if len(routePath) == 0 || strings.HasPrefix(routePath, "/") || strings.HasSuffix(routePath, "/") {
		return true
	}
	for _, segment := range strings.Split(routePath, "/") {
		if len(segment) == 0 || segment == "." || segment == ".." {
			return true
		}
	}
	return false
}

// Routes returns the table entries in declaration order. The slice is a
// copy; callers cannot disturb the table through it.
func (t *RouteTable) Routes() []RouteConfig {
	routes := make([]RouteConfig, len(t.routes))
	copy(routes, t.routes)
	return routes
}

// Classify returns the first route whose path is a path-segment prefix of
// key, or nil when no route claims it. Matching is literal; a route for
// [orders] owns orders/... but not orders2/...
func (t *RouteTable) Classify(key string) *RouteConfig {
	for ix := range t.routes {
		if strings.HasPrefix(key, t.routes[ix].Path+"/") {
			route := t.routes[ix]
			return &route
		}
	}
	return nil
}

// AlreadyProcessed reports whether key identifies an object this relay has
// handled before: a filename carrying the processed stamp, or anything under
// a route's errors subfolder. Every relocation raises a fresh arrival
// notification for the new key; this check is what stops that notification
// from re-entering the pipeline.
func (t *RouteTable) AlreadyProcessed(key string) bool {

	if IsStampedName(path.Base(key)) {
		return true
	}

	for _, route := range t.routes {
		if strings.HasPrefix(key, route.Path+"/"+ErrorsSubpath+"/") {
			return true
		}
	}

	return false
}

// Shadowed reports every route that a lookup can never reach because an
// earlier route's path is a path-segment prefix of its own.
func (t *RouteTable) Shadowed() []RouteShadow {

	var shadows []RouteShadow
	for later := 1; later < len(t.routes); later++ {
		for earlier := 0; earlier < later; earlier++ {
			laterPath := t.routes[later].Path + "/"
			earlierPath := t.routes[earlier].Path + "/"
			if strings.HasPrefix(laterPath, earlierPath) {
				shadows = append(shadows, RouteShadow{Route: t.routes[later].Path, Winner: t.routes[earlier].Path})
				break
			}
		}
	}

	return shadows
}
