// Package api provides the HTTP REST API of the task manager.
//
// # Overview
//
// Every route is mounted under /api/v1 on a gorilla/mux router and answers
// with the same JSON envelope:
//
//	{"status": 200, "message": "...", "data": {...}, "errors": [], "success": true}
//
// Handlers are grouped by resource:
//
//   - Auth: registration, email verification, login, token refresh, password
//     flows and profile management (/auth)
//   - Projects: projects and their membership (/projects)
//   - Tasks and subtasks, scoped to a project (/tasks/{projectId}, /subtasks/{projectId})
//   - Boards and notes, scoped to a project (/boards/{projectId}, /notes/{projectId})
//   - Notifications of the signed-in user (/notifications)
//   - Health: GET /healthcheck
//
// # Sessions
//
// Protected routes run behind middleware.SessionMiddleware. An expired access
// token is replaced silently when the request also carries a valid refresh
// token; the new pair is written back as cookies.
//
// # Rate limiting
//
// Three budgets apply: a general API budget on every route, a tighter budget on
// register and login, and an email budget on routes that send mail.
//
// # Usage
//
//	services := api.NewServices(store, nil, accountsSvc, logger)
//	server := api.NewServer(api.Config{
//		Services: services,
//		Session:  session,
//		Cookies:  cookies,
//		Health:   checker,
//		Logger:   logger,
//	})
//	http.ListenAndServe(":8000", server)
package api
