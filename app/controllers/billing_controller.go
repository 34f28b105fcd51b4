package controllers

import (
	"encoding/json"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/cloudhop/cloudhop/internal/pkg/billing"
)

// HandleBillingPlanWebhook accepts plan changes from the billing system.
// The request is authenticated by an HMAC signature over the raw body,
// never by a user session.
func HandleBillingPlanWebhook(c *fiber.Ctx) error {
	secret := os.Getenv("BILLING_WEBHOOK_SECRET")
	if secret == "" {
		log.Error("[Billing] BILLING_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "billing webhook is not configured",
		})
	}

	body := c.Body()
	signature := c.Get("X-CloudHop-Signature")
	if !billing.VerifyPlanWebhookSignature(body, signature, secret) {
		log.Warnf("[Billing] Rejected plan webhook with bad signature from %s", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid signature",
		})
	}

	var event billing.PlanEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return badRequest(c, "invalid event payload")
	}
	if err := validate.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	plan, err := billingService.ApplyPlanEvent(event)
	if err != nil {
		return apiError(c, err)
	}

	log.Infof("[Billing] Applied plan %s for user %d", plan.Plan, event.UserID)
	return c.JSON(fiber.Map{
		"status": "applied",
		"plan":   plan.Plan,
	})
}
