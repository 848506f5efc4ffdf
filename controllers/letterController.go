package controllers

import (
	"encoding/json"
	"time"

	"disputeflow-backend/database"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/services"
	"disputeflow-backend/store"

	"github.com/gofiber/fiber/v2"
)

type LetterCreateDTO struct {
	DisputeId        string          `json:"dispute_id" validate:"required,uuid4"`
	Type             string          `json:"type" validate:"required,min=1"`
	Subject          string          `json:"subject" validate:"omitempty"`
	BodyHTML         string          `json:"body_html" validate:"required,min=1"`
	BodyText         string          `json:"body_text" validate:"omitempty"`
	MailType         string          `json:"mail_type" validate:"omitempty,oneof=first_class certified certified_return_receipt"`
	RecipientName    string          `json:"recipient_name" validate:"omitempty"`
	RecipientAddress *models.Address `json:"recipient_address" validate:"omitempty"`
	ReturnAddress    *models.Address `json:"return_address" validate:"omitempty"`
}

type LetterRejectDTO struct {
	Reason string `json:"reason" validate:"required,min=1"`
}

type LetterCancelDTO struct {
	Reason string `json:"reason" validate:"omitempty"`
}

// pipelineFor builds the letter pipeline on the request's tenant store.
func pipelineFor(c *fiber.Ctx, s *store.Store) *services.LetterPipeline {
	schema, _ := c.Locals("schema").(string)
	return &services.LetterPipeline{
		Letters:  s,
		Disputes: s,
		Mail:     Mail,
		Contexts: &services.ContextBuilder{Disputes: s, Consumers: s},
		EnqueueRender: func(letterId string) {
			Tasks.EnqueueRender(schema, letterId)
		},
	}
}

// POST /api/letters
// The recipient defaults to the bureau's dispute address when omitted.
func CreateLetter(c *fiber.Ctx) error {
	var in LetterCreateDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}

	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var dispute models.Dispute
	if err := db.First(&dispute, "id = ?", in.DisputeId).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "unknown dispute")
	}

	userID, _ := c.Locals("userID").(string)
	letter := models.Letter{
		DisputeId:     dispute.Id,
		Type:          in.Type,
		Subject:       in.Subject,
		BodyHTML:      in.BodyHTML,
		BodyText:      in.BodyText,
		MailType:      in.MailType,
		RecipientName: in.RecipientName,
		Status:        models.LetterDraft,
		CreatedBy:     userID,
	}
	if letter.MailType == "" {
		letter.MailType = models.MailFirstClass
	}

	recipient := in.RecipientAddress
	if recipient == nil {
		if addr, ok := services.BureauAddress(dispute.Bureau); ok {
			recipient = &addr
			if letter.RecipientName == "" {
				letter.RecipientName = addr.Name
			}
		}
	}
	if recipient != nil {
		if err := middlewares.ValidateStruct(recipient); err != nil {
			return err
		}
		letter.RecipientAddress, _ = json.Marshal(recipient)
	}
	if in.ReturnAddress != nil {
		if err := middlewares.ValidateStruct(in.ReturnAddress); err != nil {
			return err
		}
		letter.ReturnAddress, _ = json.Marshal(in.ReturnAddress)
	}

	if err := db.Create(&letter).Error; err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "could not create letter")
	}
	return c.JSON(letter)
}

// GET /api/letters/:id
func GetLetter(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	s := store.New(db)
	letter, err := s.LetterByID(c.Params("id"))
	if err != nil {
		return err
	}
	events, err := s.LetterEvents(letter.Id)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"letter": letter, "events": events})
}

// POST /api/letters/:id/submit
func SubmitLetter(c *fiber.Ctx) error {
	return letterAction(c, func(p *services.LetterPipeline, l *models.Letter) error {
		return p.SubmitForApproval(l)
	})
}

// POST /api/letters/:id/approve
func ApproveLetter(c *fiber.Ctx) error {
	userID, _ := c.Locals("userID").(string)
	return letterAction(c, func(p *services.LetterPipeline, l *models.Letter) error {
		return p.Approve(l, userID, time.Now())
	})
}

// POST /api/letters/:id/reject
func RejectLetter(c *fiber.Ctx) error {
	var in LetterRejectDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	return letterAction(c, func(p *services.LetterPipeline, l *models.Letter) error {
		return p.Reject(l, in.Reason)
	})
}

// POST /api/letters/:id/render
// Rendering runs asynchronously; poll the letter for pdf_url.
func RenderLetter(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	letter, err := store.New(db).LetterByID(c.Params("id"))
	if err != nil {
		return err
	}
	if letter.Status != models.LetterApproved {
		return &services.InvalidTransitionError{Entity: "letter", Current: letter.Status, Requested: models.LetterRendering}
	}

	schema, _ := c.Locals("schema").(string)
	Tasks.EnqueueRender(schema, letter.Id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "render queued", "letter_id": letter.Id})
}

// POST /api/letters/:id/send
// Mailing runs asynchronously; the job defers itself while the render is
// still pending.
func SendLetter(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}
	letter, err := store.New(db).LetterByID(c.Params("id"))
	if err != nil {
		return err
	}
	if letter.Status != models.LetterApproved {
		return &services.InvalidTransitionError{Entity: "letter", Current: letter.Status, Requested: models.LetterQueued}
	}

	schema, _ := c.Locals("schema").(string)
	Tasks.EnqueueSend(schema, letter.Id)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"message": "send queued", "letter_id": letter.Id})
}

// POST /api/letters/:id/cancel
func CancelLetter(c *fiber.Ctx) error {
	var in LetterCancelDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	return letterAction(c, func(p *services.LetterPipeline, l *models.Letter) error {
		return p.Cancel(c.Context(), l, in.Reason)
	})
}

// POST /api/letters/verify-address
func VerifyAddress(c *fiber.Ctx) error {
	var in models.Address
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	res, err := Mail.VerifyAddress(c.Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func letterAction(c *fiber.Ctx, fn func(p *services.LetterPipeline, l *models.Letter) error) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	s := store.New(db)
	letter, err := s.LetterForUpdate(c.Params("id"))
	if err != nil {
		return err
	}
	if err := fn(pipelineFor(c, s), letter); err != nil {
		return err
	}
	return c.JSON(letter)
}
