package controllers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/internal/pkg/billing"
	"github.com/cloudhop/cloudhop/internal/pkg/quota"
	"github.com/cloudhop/cloudhop/internal/pkg/slots"
	"github.com/cloudhop/cloudhop/internal/pkg/transfer"
)

// Package-level services, wired once at startup.
var (
	transferEngine *transfer.Engine
	slotService    *slots.Service
	billingService *billing.Service
)

var validate = validator.New()

// Initialize wires the controllers against their services. Must be called
// before any route is served.
func Initialize(engine *transfer.Engine, slotSvc *slots.Service, billingSvc *billing.Service) {
	transferEngine = engine
	slotService = slotSvc
	billingService = billingSvc
}

// apiError maps domain errors onto the API's error contract. Everything
// the quota ledger, slot registry and transfer engine can reject is
// translated here so every endpoint speaks the same dialect.
func apiError(c *fiber.Ctx, err error) error {
	var (
		quotaErr    *quota.QuotaExceededError
		transferErr *quota.TransferQuotaExceededError
		sizeErr     *quota.FileTooLargeError
		slotErr     *quota.SlotLimitError
	)

	switch {
	case errors.As(err, &quotaErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "quota_exceeded",
			"scope":   string(quotaErr.Scope),
			"message": quotaErr.Error(),
		})
	case errors.As(err, &transferErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "transfer_quota_exceeded",
			"scope":   string(transferErr.Scope),
			"message": transferErr.Error(),
		})
	case errors.As(err, &slotErr):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":   "cloud_limit_reached",
			"message": slotErr.Error(),
		})
	case errors.As(err, &sizeErr):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error":   "file_too_large",
			"message": sizeErr.Error(),
		})
	case errors.Is(err, slots.ErrTokenExpired):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "transfer_token_expired",
			"message": "transfer token expired, restart the connect flow",
		})
	case errors.Is(err, slots.ErrTokenInvalid):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "transfer_token_invalid",
			"message": "transfer token is invalid",
		})
	case errors.Is(err, slots.ErrOwnershipChanged):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "ownership_changed",
			"message": "account ownership changed during redemption, refresh your account list",
		})
	case errors.Is(err, transfer.ErrSameAccount), errors.Is(err, transfer.ErrNoFiles):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, transfer.ErrWrongPhase):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "wrong_phase",
			"message": err.Error(),
		})
	case errors.Is(err, transfer.ErrJobTerminal):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "job_terminal",
			"message": err.Error(),
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "resource not found",
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   "internal_error",
		"message": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   "validation_failed",
		"message": message,
	})
}
