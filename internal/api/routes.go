package api

import (
	"crm-backend/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, d Deps) {
	server := NewServer(d)

	// CORS middleware
	router.Use(middleware.CORSSpecific(d.Config.GetCORSOrigins()))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "crm-backend",
			"cache":   d.Service.Cache().Stats(),
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Auth routes (no authentication required)
		auth := v1.Group("/auth")
		{
			auth.POST("/signup", server.SignUp)
			auth.POST("/login", server.Login)
		}

		// Protected routes (authentication required)
		protected := v1.Group("/")
		protected.Use(middleware.AuthMiddleware(d.JWT))
		{
			protected.GET("/workspaces", server.GetWorkspaces)

			ws := protected.Group("/workspaces/:ws")
			ws.Use(middleware.WorkspaceScope(d.Service))
			{
				ws.GET("/members", server.GetMembers)
				ws.POST("/invitations", server.InviteMember)
				ws.GET("/notifications", server.GetNotifications)
				ws.GET("/ws", server.Realtime)
				ws.POST("/automation/run", server.RunAutomation)

				ws.GET("/settings", server.GetSettings)
				ws.PUT("/settings", server.UpdateSettings)
				ws.DELETE("/settings", server.DeleteSettings)

				// Chat routes
				chat := ws.Group("/conversations")
				{
					chat.GET("", server.GetConversations)
					chat.POST("", server.EnsureConversation)
					chat.GET("/:id", server.GetConversation)
					chat.PUT("/:id/lead", server.LinkConversationLead)
					chat.POST("/:id/read", server.MarkConversationRead)
					chat.DELETE("/:id", server.DeleteConversation)
					chat.GET("/:id/messages", server.GetMessages)
					chat.POST("/:id/messages", server.SendMessage)
				}
				ws.PUT("/messages/:id/status", server.UpdateMessageStatus)
				ws.POST("/chat/upload", server.UploadFile)

				// Lead routes
				leads := ws.Group("/leads")
				{
					leads.GET("", server.GetLeads)
					leads.POST("", server.CreateLead)
					leads.GET("/:id", server.GetLead)
					leads.PUT("/:id", server.UpdateLead)
					leads.PUT("/:id/stage", server.MoveLead)
					leads.DELETE("/:id", server.DeleteLead)
					leads.GET("/:id/tags", server.GetLeadTags)
					leads.PUT("/:id/tags/:tag", server.AddLeadTag)
					leads.DELETE("/:id/tags/:tag", server.RemoveLeadTag)
				}
				ws.GET("/tags", server.GetTags)

				// Job routes
				jobs := ws.Group("/jobs")
				{
					jobs.GET("", server.GetJobs)
					jobs.POST("", server.CreateJob)
					jobs.GET("/board", server.GetBoard)
					jobs.GET("/:id", server.GetJob)
					jobs.PUT("/:id", server.UpdateJob)
					jobs.PUT("/:id/status", server.MoveJob)
					jobs.DELETE("/:id", server.DeleteJob)

					jobs.GET("/:id/time-logs", server.GetTimeLogs)
					jobs.POST("/:id/time-logs/start", server.StartTimer)
					jobs.POST("/:id/time-logs/stop", server.StopTimer)

					jobs.GET("/:id/subtasks", server.GetSubtasks)
					jobs.POST("/:id/subtasks", server.CreateSubtask)
					jobs.PUT("/:id/subtasks/:subtask", server.UpdateSubtask)
					jobs.DELETE("/:id/subtasks/:subtask", server.DeleteSubtask)

					jobs.GET("/:id/comments", server.GetComments)
					jobs.POST("/:id/comments", server.AddComment)
					jobs.PUT("/:id/comments/:comment", server.UpdateComment)
					jobs.DELETE("/:id/comments/:comment", server.DeleteComment)
				}

				statuses := ws.Group("/statuses")
				{
					statuses.GET("", server.GetStatuses)
					statuses.POST("", server.CreateStatus)
					statuses.PUT("/:id", server.UpdateStatus)
					statuses.DELETE("/:id", server.DeleteStatus)
				}
			}
		}
	}
}
