package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/cloudhop/cloudhop/app/repository"
	"github.com/cloudhop/cloudhop/internal/pkg/middleware"
	"github.com/cloudhop/cloudhop/internal/pkg/oauth"
	"github.com/cloudhop/cloudhop/internal/pkg/provider"
	"github.com/cloudhop/cloudhop/internal/pkg/slots"
)

const connectUserSessionKey = "connect_user_id"

func lookupUserEmail(userID uint) (string, error) {
	user, err := repository.GetGlobalRepositories().User.GetByID(userID)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

// HandleProviderConnect starts the OAuth dance for connecting a cloud
// account. The caller is already authenticated; their id is parked in the
// OAuth session so the callback can attribute the account.
func HandleProviderConnect(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	sess, err := gothfiber.SessionStore.Get(c)
	if err != nil {
		return apiError(c, err)
	}
	sess.Set(connectUserSessionKey, userID)
	if err := sess.Save(); err != nil {
		return apiError(c, err)
	}

	return gothfiber.BeginAuthHandler(c)
}

// HandleProviderCallback finishes the OAuth dance and resolves the slot.
// The outcome is either a (re)connected account, a reclaim, or an
// ownership conflict carrying a transfer token.
func HandleProviderCallback(c *fiber.Ctx) error {
	sess, err := gothfiber.SessionStore.Get(c)
	if err != nil {
		return apiError(c, err)
	}
	userID, ok := sess.Get(connectUserSessionKey).(uint)
	if !ok || userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "connect flow was not started by an authenticated user",
		})
	}

	gothUser, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		return badRequest(c, "OAuth flow failed: "+err.Error())
	}

	claimantEmail := ""
	if user := middleware.GetCurrentUser(c); user != nil {
		claimantEmail = user.Email
	} else if u, err := lookupUserEmail(userID); err == nil {
		claimantEmail = u
	}

	providerName := oauth.ProviderName(gothUser.Provider)
	creds := slots.Credentials{
		AccessToken:  gothUser.AccessToken,
		RefreshToken: gothUser.RefreshToken,
	}
	if !gothUser.ExpiresAt.IsZero() {
		expires := gothUser.ExpiresAt
		creds.ExpiresAt = &expires
	}

	outcome, err := slotService.ResolveConnection(userID, providerName, gothUser.UserID, gothUser.Email, claimantEmail, creds)
	if err != nil {
		return apiError(c, err)
	}

	if outcome.Status == slots.StatusConflict {
		log.Infof("[Accounts] Ownership conflict for %s account %s (user %d)", providerName, gothUser.UserID, userID)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":          "ownership_conflict",
			"message":        "this account is attached to another user",
			"transfer_token": outcome.TransferToken,
		})
	}

	return c.JSON(fiber.Map{
		"status":              string(outcome.Status),
		"provider":            providerName,
		"provider_account_id": gothUser.UserID,
	})
}

type redeemRequest struct {
	TransferToken string `json:"transfer_token" validate:"required"`
	AccessToken   string `json:"access_token" validate:"required"`
	RefreshToken  string `json:"refresh_token"`
}

// HandleTransferTokenRedeem completes an ownership transfer offered during
// a conflicting connect
func HandleTransferTokenRedeem(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	creds := slots.Credentials{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	if err := slotService.RedeemTransferToken(req.TransferToken, userID, creds); err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{"status": "transferred"})
}

// HandleAccountsList returns the caller's connected accounts
func HandleAccountsList(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	accounts, err := slotService.ListActiveSlots(userID)
	if err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"accounts": accounts})
}

// HandleAccountDisconnect deactivates a slot. The slot stays consumed;
// reconnecting the same account later is free.
func HandleAccountDisconnect(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)
	providerName := c.Params("provider")
	accountID := c.Params("account_id")

	if err := slotService.Disconnect(userID, providerName, accountID); err != nil {
		return apiError(c, err)
	}
	return c.JSON(fiber.Map{"status": "disconnected"})
}

type s3ConnectRequest struct {
	AccessKeyID     string `json:"access_key_id" validate:"required"`
	SecretAccessKey string `json:"secret_access_key" validate:"required"`
	Region          string `json:"region"`
	EndpointURL     string `json:"endpoint_url"`
	Bucket          string `json:"bucket" validate:"required"`
	Email           string `json:"email"`
}

// HandleS3Connect attaches an S3-compatible account by keys instead of
// OAuth. The account id is derived from endpoint and bucket so the same
// bucket reconnects into the same slot.
func HandleS3Connect(c *fiber.Ctx) error {
	userID := middleware.GetCurrentUserID(c)

	var req s3ConnectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	accountID := strings.TrimSuffix(req.EndpointURL, "/") + "/" + req.Bucket
	creds := slots.Credentials{
		AccessToken:  req.AccessKeyID,
		RefreshToken: req.SecretAccessKey,
	}

	outcome, err := slotService.ResolveConnection(userID, provider.ProviderS3, accountID, req.Email, req.Email, creds)
	if err != nil {
		return apiError(c, err)
	}
	if outcome.Status == slots.StatusConflict {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":          "ownership_conflict",
			"message":        "this bucket is attached to another user",
			"transfer_token": outcome.TransferToken,
		})
	}

	// Persist the bucket location on the ownership row for the gateway.
	account, err := slotService.GetCredentials(userID, provider.ProviderS3, accountID)
	if err != nil {
		return apiError(c, err)
	}
	account.EndpointURL = req.EndpointURL
	account.Region = req.Region
	account.Bucket = req.Bucket
	if err := slotService.SaveAccount(account); err != nil {
		return apiError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":              string(outcome.Status),
		"provider":            provider.ProviderS3,
		"provider_account_id": accountID,
	})
}
