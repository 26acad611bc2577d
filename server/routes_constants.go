package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteAuthCheck    = "/auth/check"
	RouteAuthLogin    = "/auth/login"
	RouteAuthCallback = "/auth/callback"
	RouteAuthLogout   = "/auth/logout"
	RouteAuthUserInfo = "/auth/userinfo"
	RouteHealth       = "/health"
)
