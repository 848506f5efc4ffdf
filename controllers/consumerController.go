package controllers

import (
	"encoding/json"
	"strings"
	"time"

	"disputeflow-backend/database"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

type ConsumerCreateDTO struct {
	FirstName  string           `json:"first_name" validate:"required,min=1"`
	MiddleName string           `json:"middle_name" validate:"omitempty"`
	LastName   string           `json:"last_name" validate:"required,min=1"`
	Suffix     string           `json:"suffix" validate:"omitempty"`
	DOB        string           `json:"dob" validate:"omitempty,datetime=2006-01-02"`
	SSN        string           `json:"ssn" validate:"omitempty"`
	Addresses  []models.Address `json:"addresses" validate:"omitempty,dive"`
	Phones     json.RawMessage  `json:"phones" validate:"omitempty"`
	Emails     json.RawMessage  `json:"emails" validate:"omitempty"`
	Notes      string           `json:"notes" validate:"omitempty"`
}

type ConsumerUpdateDTO struct {
	FirstName  *string          `json:"first_name" validate:"omitempty,min=1"`
	MiddleName *string          `json:"middle_name" validate:"omitempty"`
	LastName   *string          `json:"last_name" validate:"omitempty,min=1"`
	Suffix     *string          `json:"suffix" validate:"omitempty"`
	Notes      *string          `json:"notes" validate:"omitempty"`
	Addresses  []models.Address `json:"addresses" validate:"omitempty,dive"`
}

// POST /api/consumers
func CreateConsumer(c *fiber.Ctx) error {
	var in ConsumerCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizeDTO(&in)

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	userID, _ := c.Locals("userID").(string)
	consumer := models.Consumer{
		FirstName:  in.FirstName,
		MiddleName: in.MiddleName,
		LastName:   in.LastName,
		Suffix:     in.Suffix,
		Notes:      in.Notes,
		CreatedBy:  userID,
	}

	if in.DOB != "" {
		dob, err := time.Parse("2006-01-02", in.DOB)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid dob")
		}
		consumer.DOB = &dob
	}
	if in.SSN != "" {
		encrypted, last4, err := Crypto.EncryptSSN(in.SSN)
		if err != nil {
			return err
		}
		consumer.SSNEncrypted = encrypted
		consumer.SSNLast4 = last4
	}
	if len(in.Addresses) > 0 {
		consumer.Addresses, _ = json.Marshal(in.Addresses)
	}
	if len(in.Phones) > 0 {
		consumer.Phones = datatypes.JSON(in.Phones)
	}
	if len(in.Emails) > 0 {
		consumer.Emails = datatypes.JSON(in.Emails)
	}

	if err := db.Create(&consumer).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not create consumer")
	}
	return c.JSON(consumerView(&consumer))
}

// GET /api/consumers
func ListConsumers(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	offset := utils.ParseIntDefault(c.Query("offset"), 0)

	q := db.Model(&models.Consumer{}).Order("last_name ASC, first_name ASC")
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?", like, like)
	}

	var consumers []models.Consumer
	if err := q.Limit(limit).Offset(offset).Find(&consumers).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}

	out := make([]fiber.Map, 0, len(consumers))
	for i := range consumers {
		out = append(out, consumerView(&consumers[i]))
	}
	return c.JSON(fiber.Map{"consumers": out, "limit": limit, "offset": offset})
}

// GET /api/consumers/:id
func GetConsumer(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var consumer models.Consumer
	if err := db.First(&consumer, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	return c.JSON(consumerView(&consumer))
}

// PATCH /api/consumers/:id
func UpdateConsumer(c *fiber.Ctx) error {
	var in ConsumerUpdateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&in)

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var existing models.Consumer
	if err := db.First(&existing, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}

	updates := utils.UpdatesFromPtrDTO(&in, nil)
	if len(in.Addresses) > 0 {
		blob, _ := json.Marshal(in.Addresses)
		updates["addresses"] = datatypes.JSON(blob)
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Consumer{}).Where("id = ?", existing.Id).Updates(updates).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not update consumer")
		}
	}

	var out models.Consumer
	if err := db.First(&out, "id = ?", existing.Id).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to reload consumer")
	}
	return c.JSON(consumerView(&out))
}

// consumerView renders a consumer with the SSN masked; the encrypted form
// never leaves the service.
func consumerView(consumer *models.Consumer) fiber.Map {
	return fiber.Map{
		"id":          consumer.Id,
		"first_name":  consumer.FirstName,
		"middle_name": consumer.MiddleName,
		"last_name":   consumer.LastName,
		"suffix":      consumer.Suffix,
		"full_name":   consumer.FullName(),
		"dob":         consumer.DOB,
		"ssn_masked":  utils.MaskSSN(consumer.SSNLast4),
		"addresses":   consumer.Addresses,
		"phones":      consumer.Phones,
		"emails":      consumer.Emails,
		"notes":       consumer.Notes,
		"created_at":  consumer.CreatedAt,
		"updated_at":  consumer.UpdatedAt,
	}
}
