package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/cloudhop/cloudhop/app/models"
	"github.com/cloudhop/cloudhop/app/repository"
	"github.com/cloudhop/cloudhop/internal/pkg/middleware"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleAuthRegister creates a user account and returns a JWT
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	users := repository.GetGlobalRepositories().User
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := users.GetByEmail(email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "email_taken",
			"message": "an account with this email already exists",
		})
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apiError(c, err)
	}

	user, err := models.CreateUser(req.Name, email, req.Password)
	if err != nil {
		return badRequest(c, err.Error())
	}
	if err := users.Create(user); err != nil {
		return apiError(c, err)
	}

	token, err := middleware.GenerateToken(user)
	if err != nil {
		return apiError(c, err)
	}

	log.Infof("[Auth] Registered user %d (%s)", user.ID, user.Email)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// HandleAuthLogin verifies credentials and returns a JWT
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	users := repository.GetGlobalRepositories().User
	user, err := users.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "invalid_credentials",
			"message": "email or password is incorrect",
		})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "account_disabled",
			"message": "this account is disabled",
		})
	}

	token, err := middleware.GenerateToken(user)
	if err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

// HandleAuthMe returns the authenticated user's profile and plan
func HandleAuthMe(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	plan, err := transferEngine.Quota().GetOrCreatePlan(user.ID)
	if err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
		"plan": plan,
	})
}
