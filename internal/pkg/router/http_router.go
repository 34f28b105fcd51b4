package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cloudhop/cloudhop/app/controllers"
	"github.com/cloudhop/cloudhop/internal/pkg/middleware"
	"github.com/cloudhop/cloudhop/internal/pkg/oauth"
)

type HttpRouter struct {
}

// InstallRouter wires the browser-facing routes: health probe and the
// OAuth connect redirects. Everything else lives under /api/v1.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init oauth providers and their session store
	oauth.Setup()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// OAuth connect flow. The redirect cannot carry a Bearer header, so
	// AuthRequired also accepts ?token= here.
	app.Get("/auth/:provider", middleware.AuthRequired(), controllers.HandleProviderConnect)
	app.Get("/auth/:provider/callback", controllers.HandleProviderCallback)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
