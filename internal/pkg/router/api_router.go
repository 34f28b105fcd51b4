package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/cloudhop/cloudhop/app/controllers"
	"github.com/cloudhop/cloudhop/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")

	// Public
	v1.Post("/auth/register", controllers.HandleAuthRegister)
	v1.Post("/auth/login", controllers.HandleAuthLogin)

	// Billing actor, authenticated by webhook signature instead of a user
	v1.Post("/internal/billing/plan", controllers.HandleBillingPlanWebhook)

	// Authenticated
	auth := v1.Group("", middleware.AuthRequired())
	auth.Get("/auth/me", controllers.HandleAuthMe)

	auth.Get("/accounts", controllers.HandleAccountsList)
	auth.Post("/accounts/s3", controllers.HandleS3Connect)
	auth.Post("/accounts/transfer/redeem", controllers.HandleTransferTokenRedeem)
	auth.Delete("/accounts/:provider/:account_id", controllers.HandleAccountDisconnect)

	auth.Get("/queue/stats", controllers.HandleQueueStats)
	auth.Get("/queue/entries", controllers.HandleQueueEntries)
	auth.Delete("/queue/completed", controllers.HandleQueuePurgeCompleted)

	auth.Post("/transfer/create", controllers.HandleTransferCreate)
	auth.Get("/transfer/list", controllers.HandleTransferList)
	auth.Post("/transfer/prepare/:job_id", controllers.HandleTransferPrepare)
	auth.Post("/transfer/run/:job_id", controllers.HandleTransferRun)
	auth.Get("/transfer/status/:job_id", controllers.HandleTransferStatus)
	auth.Post("/transfer/cancel/:job_id", controllers.HandleTransferCancel)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
