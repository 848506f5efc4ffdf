package controllers

import (
	"strings"

	"disputeflow-backend/database"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/services"
	"disputeflow-backend/store"

	"github.com/gofiber/fiber/v2"
)

type ConnectionInitiateDTO struct {
	ConsumerId  string   `json:"consumer_id" validate:"required,uuid4"`
	RedirectURI string   `json:"redirect_uri" validate:"omitempty,url"`
	Scopes      []string `json:"scopes" validate:"omitempty"`
}

type ConnectionCompleteDTO struct {
	ConsumerId string `json:"consumer_id" validate:"required,uuid4"`
	Code       string `json:"code" validate:"required,min=1"`
	State      string `json:"state" validate:"required,min=1"`
}

type ConnectionPullDTO struct {
	Bureau string `json:"bureau" validate:"omitempty,oneof=equifax experian transunion"`
}

func vaultFor(c *fiber.Ctx, s *store.Store) *services.TokenVault {
	schema, _ := c.Locals("schema").(string)
	return Tasks.Vault(schema, s)
}

// POST /api/connections/initiate
// Returns the provider authorization URL the consumer must visit.
func InitiateConnection(c *fiber.Ctx) error {
	var in ConnectionInitiateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	s := store.New(db)

	if _, err := s.ConsumerByID(in.ConsumerId); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unknown consumer")
	}

	authURL, conn, err := vaultFor(c, s).Initiate(in.ConsumerId, models.ProviderSmartCredit, in.RedirectURI, in.Scopes)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"authorization_url": authURL,
		"connection_id":     conn.Id,
		"status":            conn.Status,
	})
}

// POST /api/connections/complete
// OAuth callback target: exchanges the code and activates the connection.
func CompleteConnection(c *fiber.Ctx) error {
	var in ConnectionCompleteDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	s := store.New(db)

	conn, err := vaultFor(c, s).Complete(c.UserContext(), in.ConsumerId, models.ProviderSmartCredit, in.Code, in.State)
	if err != nil {
		return err
	}
	return c.JSON(conn)
}

// GET /api/connections
func ListConnections(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	q := db.Model(&models.OAuthConnection{}).Order("created_at DESC")
	if consumerId := strings.TrimSpace(c.Query("consumer_id")); consumerId != "" {
		q = q.Where("consumer_id = ?", consumerId)
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	}

	var conns []models.OAuthConnection
	if err := q.Find(&conns).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"connections": conns})
}

// POST /api/connections/:id/pull
// Queues an asynchronous report fetch; all three bureaus when none is named.
func PullReports(c *fiber.Ctx) error {
	var in ConnectionPullDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	s := store.New(db)

	conn, err := s.ConnectionByID(c.Params("id"))
	if err != nil {
		return err
	}
	if conn.Status != models.ConnectionActive {
		return services.Validationf("connection is %s, not active", conn.Status)
	}

	schema, _ := c.Locals("schema").(string)
	Tasks.EnqueuePull(schema, conn.Id, in.Bureau)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "pull queued", "connection_id": conn.Id})
}

// GET /api/consumers/:id/reports
func ListReports(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var reports []models.CreditReport
	q := db.Where("consumer_id = ?", c.Params("id")).Order("pulled_at DESC")
	if bureau := strings.TrimSpace(c.Query("bureau")); bureau != "" {
		q = q.Where("bureau = ?", bureau)
	}
	if err := q.Find(&reports).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"reports": reports})
}
