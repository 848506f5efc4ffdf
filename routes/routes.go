package routes

import (
	"github.com/gofiber/fiber/v2"

	"disputeflow-backend/controllers"
	"disputeflow-backend/middlewares"
)

// Register wires all HTTP routes.
func Register(app *fiber.App) {
	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/registration", controllers.Register)
	api.Post("/login", controllers.Login)
	api.Post("/logout", controllers.Logout)

	// Provider webhooks: unauthenticated, tenant addressed by slug,
	// authenticity enforced by HMAC signature inside the reconciler.
	api.Post("/webhooks/:tenant/lob", controllers.IngestLobWebhook)
	api.Post("/webhooks/:tenant/smartcredit", controllers.IngestSmartCreditWebhook)

	// Protected endpoints (JWT auth)
	protected := api.Group("")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Idempotency guard FIRST (not tied to request TX)
	protected.Use(middlewares.Idempotency())

	// Then per-request tenant transaction (pins search_path and commits/rolls back)
	protected.Use(middlewares.TenantTx())

	// Consumers
	protected.Post("/consumers", controllers.CreateConsumer)
	protected.Get("/consumers", controllers.ListConsumers)
	protected.Get("/consumers/:id", controllers.GetConsumer)
	protected.Patch("/consumers/:id", controllers.UpdateConsumer)
	protected.Get("/consumers/:id/reports", controllers.ListReports)

	// Disputes (state machine; content edits only before approval)
	protected.Post("/disputes", controllers.CreateDispute)
	protected.Get("/disputes", controllers.ListDisputes)
	protected.Get("/disputes/:id", controllers.GetDispute)
	protected.Patch("/disputes/:id", controllers.UpdateDispute)
	protected.Post("/disputes/:id/transition", controllers.TransitionDispute)
	protected.Post("/disputes/:id/extend", controllers.ExtendDispute)
	protected.Post("/disputes/:id/outcome", controllers.RecordDisputeOutcome)
	protected.Delete("/disputes/:id", controllers.DeleteDispute)

	// Letters (pipeline: draft -> approved -> rendered -> mailed)
	protected.Post("/letters", controllers.CreateLetter)
	protected.Get("/letters/:id", controllers.GetLetter)
	protected.Post("/letters/:id/submit", controllers.SubmitLetter)
	protected.Post("/letters/:id/approve", controllers.ApproveLetter)
	protected.Post("/letters/:id/reject", controllers.RejectLetter)
	protected.Post("/letters/:id/render", controllers.RenderLetter)
	protected.Post("/letters/:id/send", controllers.SendLetter)
	protected.Post("/letters/:id/cancel", controllers.CancelLetter)
	protected.Post("/letters/verify-address", controllers.VerifyAddress)

	// Credit-data connections (OAuth)
	protected.Post("/connections/initiate", controllers.InitiateConnection)
	protected.Post("/connections/complete", controllers.CompleteConnection)
	protected.Get("/connections", controllers.ListConnections)
	protected.Post("/connections/:id/pull", controllers.PullReports)

	// Tasks
	protected.Get("/tasks", controllers.ListTasks)
	protected.Post("/tasks/:id/start", controllers.StartTask)
	protected.Post("/tasks/:id/complete", controllers.CompleteTask)
	protected.Post("/tasks/:id/cancel", controllers.CancelTask)
}
