package route

import (
	"cmp"
	"slices"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader initializes routes on the gin engine.
type RouterLoader func(r *gin.Engine) error

// RouteType distinguishes which server a plugin's routes belong to.
type RouteType int

const (
	// RouteTypeMain registers routes on the main API server.
	RouteTypeMain RouteType = iota
	// RouteTypeManagement registers health, readiness and metrics routes.
	// Without a dedicated management port they share the main server.
	RouteTypeManagement
)

// Plugin is a route loader with a mount order.
type Plugin struct {
	Order  int
	Type   RouteType
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
}

// loaders returns the loaders of type t in mount order. Plugins with equal
// order keep their registration order.
func loaders(t RouteType) []RouterLoader {
	mu.Lock()
	selected := slices.DeleteFunc(slices.Clone(plugins), func(p Plugin) bool { return p.Type != t })
	mu.Unlock()
	slices.SortStableFunc(selected, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })

	out := make([]RouterLoader, 0, len(selected))
	for _, p := range selected {
		out = append(out, p.Loader)
	}
	return out
}

// MainRouteLoaders returns loaders for RouteTypeMain plugins, sorted by order.
func MainRouteLoaders() []RouterLoader {
	return loaders(RouteTypeMain)
}

// ManagementRouteLoaders returns loaders for RouteTypeManagement plugins, sorted by order.
func ManagementRouteLoaders() []RouterLoader {
	return loaders(RouteTypeManagement)
}
