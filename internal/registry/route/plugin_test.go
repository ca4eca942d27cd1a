package route

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestLoadersFilterByTypeAndSortByOrder(t *testing.T) {
	saved := plugins
	plugins = nil
	t.Cleanup(func() { plugins = saved })

	var mounted []string
	loader := func(name string) RouterLoader {
		return func(*gin.Engine) error {
			mounted = append(mounted, name)
			return nil
		}
	}
	Register(Plugin{Order: 10, Type: RouteTypeMain, Loader: loader("main-10")})
	Register(Plugin{Order: 0, Type: RouteTypeManagement, Loader: loader("mgmt-0")})
	Register(Plugin{Order: 1, Type: RouteTypeMain, Loader: loader("main-1")})

	for _, l := range MainRouteLoaders() {
		require.NoError(t, l(nil))
	}
	require.Equal(t, []string{"main-1", "main-10"}, mounted)

	mounted = nil
	for _, l := range ManagementRouteLoaders() {
		require.NoError(t, l(nil))
	}
	require.Equal(t, []string{"mgmt-0"}, mounted)
}
