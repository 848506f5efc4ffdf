package controllers

import (
	"encoding/json"
	"strings"
	"time"

	"disputeflow-backend/database"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/services"
	"disputeflow-backend/store"
	"disputeflow-backend/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/datatypes"
)

type DisputeCreateDTO struct {
	ConsumerId  string   `json:"consumer_id" validate:"required,uuid4"`
	Bureau      string   `json:"bureau" validate:"required,oneof=equifax experian transunion"`
	Type        string   `json:"type" validate:"required,min=1"`
	ReasonCodes []string `json:"reason_codes" validate:"omitempty"`
	Narrative   string   `json:"narrative" validate:"omitempty"`
	AssignedTo  string   `json:"assigned_to" validate:"omitempty"`
}

type DisputeUpdateDTO struct {
	Type        *string  `json:"type" validate:"omitempty,min=1"`
	Narrative   *string  `json:"narrative" validate:"omitempty"`
	AssignedTo  *string  `json:"assigned_to" validate:"omitempty"`
	ReasonCodes []string `json:"reason_codes" validate:"omitempty"`
}

type DisputeTransitionDTO struct {
	Status string `json:"status" validate:"required"`
}

type DisputeOutcomeDTO struct {
	Outcome        string          `json:"outcome" validate:"required"`
	BureauResponse string          `json:"bureau_response" validate:"omitempty"`
	Details        json.RawMessage `json:"details" validate:"omitempty"`
}

// POST /api/disputes
func CreateDispute(c *fiber.Ctx) error {
	var in DisputeCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	// the consumer must exist in this tenant
	var consumer models.Consumer
	if err := db.First(&consumer, "id = ?", in.ConsumerId).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unknown consumer")
	}

	userID, _ := c.Locals("userID").(string)
	dispute := models.Dispute{
		ConsumerId: in.ConsumerId,
		Bureau:     in.Bureau,
		Type:       strings.TrimSpace(in.Type),
		Narrative:  in.Narrative,
		Status:     models.DisputeDraft,
		CreatedBy:  userID,
		AssignedTo: in.AssignedTo,
	}
	if len(in.ReasonCodes) > 0 {
		dispute.ReasonCodes, _ = json.Marshal(in.ReasonCodes)
	}

	if err := store.New(db).CreateDispute(&dispute); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not create dispute")
	}
	return c.JSON(dispute)
}

// GET /api/disputes
func ListDisputes(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	offset := utils.ParseIntDefault(c.Query("offset"), 0)

	q := db.Model(&models.Dispute{}).Order("created_at DESC")
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	}
	if bureau := strings.TrimSpace(c.Query("bureau")); bureau != "" {
		q = q.Where("bureau = ?", bureau)
	}
	if consumerId := strings.TrimSpace(c.Query("consumer_id")); consumerId != "" {
		q = q.Where("consumer_id = ?", consumerId)
	}

	var disputes []models.Dispute
	if err := q.Limit(limit).Offset(offset).Find(&disputes).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"disputes": disputes, "limit": limit, "offset": offset})
}

// GET /api/disputes/:id
func GetDispute(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var dispute models.Dispute
	if err := db.First(&dispute, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}

	s := store.New(db)
	letters, err := s.LettersByDispute(dispute.Id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"dispute": dispute, "letters": letters})
}

// PATCH /api/disputes/:id
// Content edits only; status moves go through the transition endpoint.
func UpdateDispute(c *fiber.Ctx) error {
	var in DisputeUpdateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&in)

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var existing models.Dispute
	if err := db.First(&existing, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	if existing.Status != models.DisputeDraft && existing.Status != models.DisputePendingReview {
		return services.Validationf("dispute content is frozen after approval")
	}

	updates := utils.UpdatesFromPtrDTO(&in, nil)
	if len(in.ReasonCodes) > 0 {
		blob, _ := json.Marshal(in.ReasonCodes)
		updates["reason_codes"] = datatypes.JSON(blob)
	}
	if len(updates) > 0 {
		if err := db.Model(&models.Dispute{}).Where("id = ?", existing.Id).Updates(updates).Error; err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "could not update dispute")
		}
	}

	var out models.Dispute
	if err := db.First(&out, "id = ?", existing.Id).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to reload dispute")
	}
	return c.JSON(out)
}

// POST /api/disputes/:id/transition
func TransitionDispute(c *fiber.Ctx) error {
	var in DisputeTransitionDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	s := store.New(db)
	dispute, err := s.DisputeForUpdate(c.Params("id"))
	if err != nil {
		return err
	}
	if err := services.TransitionDispute(dispute, in.Status, time.Now()); err != nil {
		return err
	}
	if err := s.SaveDispute(dispute); err != nil {
		return err
	}
	return c.JSON(dispute)
}

// POST /api/disputes/:id/extend
// Grants the 45-day investigation window.
func ExtendDispute(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	s := store.New(db)
	dispute, err := s.DisputeForUpdate(c.Params("id"))
	if err != nil {
		return err
	}
	if err := services.ExtendDueDate(dispute); err != nil {
		return err
	}
	if err := s.SaveDispute(dispute); err != nil {
		return err
	}
	return c.JSON(dispute)
}

// POST /api/disputes/:id/outcome
// Records the bureau decision and resolves the dispute.
func RecordDisputeOutcome(c *fiber.Ctx) error {
	var in DisputeOutcomeDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	s := store.New(db)
	dispute, err := s.DisputeForUpdate(c.Params("id"))
	if err != nil {
		return err
	}
	if err := services.RecordOutcome(dispute, in.Outcome, in.BureauResponse, time.Now()); err != nil {
		return err
	}
	if len(in.Details) > 0 {
		dispute.OutcomeDetails = datatypes.JSON(in.Details)
	}
	if err := s.SaveDispute(dispute); err != nil {
		return err
	}
	return c.JSON(dispute)
}

// DELETE /api/disputes/:id
// Soft delete; only drafts can be removed.
func DeleteDispute(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var dispute models.Dispute
	if err := db.First(&dispute, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	if dispute.Status != models.DisputeDraft {
		return services.Validationf("only draft disputes can be deleted")
	}
	if err := db.Delete(&dispute).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not delete dispute")
	}
	return c.JSON(fiber.Map{"message": "deleted"})
}
