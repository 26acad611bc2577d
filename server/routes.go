package server

func (s *Server) initRoutes() {
	middleware := s.StandardMiddleware()

	s.RegisterRouteHandler("GET "+RouteAuthCheck, ChainMiddleware(s.CheckHandler(), middleware...))
	s.RegisterRouteHandler("GET "+RouteAuthLogin, ChainMiddleware(s.LoginHandler(), middleware...))
	s.RegisterRouteHandler("GET "+RouteAuthCallback, ChainMiddleware(s.CallbackHandler(), middleware...))
	s.RegisterRouteHandler("GET "+RouteAuthLogout, ChainMiddleware(s.LogoutHandler(), middleware...))
	s.RegisterRouteHandler("GET "+RouteAuthUserInfo, ChainMiddleware(s.UserInfoHandler(), middleware...))

	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}
