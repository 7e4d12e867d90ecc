package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func SetupRoutes(config Config, router *chi.Mux) {
	controller := NewController(config)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(config.SessionAuthMiddleware)

	router.Route("/api", func(rAPI chi.Router) {
		// Panel login
		rAPI.Post("/login", controller.Login)

		rAPI.Route("/projects", func(rProjects chi.Router) {
			// Panel project management
			rProjects.With(RequireSession).Get("/", controller.ListProjects)
			rProjects.With(RequireSession).Post("/", controller.CreateProject)

			rProjects.Route("/{project}", func(rProject chi.Router) {
				rProject.With(RequireSession).Get("/", controller.ProjectInfo)
				rProject.With(RequireSession).Put("/", controller.UpdateProject)
				rProject.With(RequireSession).Delete("/", controller.DeleteProject)
				rProject.With(RequireSession).Post("/rotate-key", controller.RotateAPIKey)

				// Publisher upload, authenticated by API key
				rProject.Post("/upload", controller.Upload)

				// Public update check and download endpoints
				rProject.Get("/version", controller.LatestVersion)
				rProject.Get("/versions", controller.ListVersions)
				rProject.Get("/download/{version}", controller.Download)
			})
		})

		rAPI.Route("/users", func(rUsers chi.Router) {
			rUsers.Use(RequireSession, RequireAdmin)
			rUsers.Get("/", controller.ListUsers)
			rUsers.Post("/", controller.CreateUser)
			rUsers.Delete("/{user}", controller.DeleteUser)
			rUsers.Put("/{user}/role", controller.SetUserRole)
		})

		rAPI.Route("/admin", func(rAdmin chi.Router) {
			rAdmin.Use(RequireSession, RequireAdmin)
			rAdmin.Get("/logs", controller.RecentLogs)
			rAdmin.Get("/stats", controller.DownloadStats)
		})
	})
}
