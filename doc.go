// Package adminguard is the authentication and request security layer of a
// single-admin portfolio backend.
//
// A Guard owns the component graph: the token codec, the rate limiter,
// the token blacklist, the token family store used for refresh rotation,
// CSRF protection, payload inspection and the audit buffer. It exposes the
// auth endpoints and a middleware that every request passes through.
//
// # Usage
//
//	store := memory.New()
//	defer store.Stop()
//
//	guard, err := adminguard.New(adminguard.Config{
//		Environment: adminguard.EnvProduction,
//		PublicURL:   "https://admin.example.com",
//		Admin: adminguard.AdminConfig{
//			Email:        "owner@example.com",
//			PasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
//		},
//		Tokens: adminguard.TokenConfig{
//			AccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
//			RefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
//		},
//	}, adminguard.Deps{Store: store})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := guard.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer guard.Shutdown(context.Background())
//
//	http.ListenAndServe(":8080", guard.Routes(adminMux))
//
// # Endpoints
//
//   - POST /api/auth/login    {email, password} -> 200 {accessToken, expiresIn, tokenType, user}
//   - POST /api/auth/refresh  refresh_token cookie -> 200, cookies rotated
//   - POST /api/auth/logout   -> 204, cookies cleared
//   - GET  /api/auth/session  -> 200 {user}
//
// Everything under /api/admin/ requires a valid access token and, for
// state-changing methods, the X-CSRF-Token header.
//
// # Refresh rotation
//
// Each login opens a token family. A refresh token can be used exactly
// once; presenting an already-rotated token revokes the whole family and
// raises a CRITICAL audit event.
package adminguard
