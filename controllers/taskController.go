package controllers

import (
	"strings"
	"time"

	"disputeflow-backend/database"
	"disputeflow-backend/middlewares"
	"disputeflow-backend/models"
	"disputeflow-backend/utils"

	"github.com/gofiber/fiber/v2"
)

type TaskCompleteDTO struct {
	Notes string `json:"notes" validate:"omitempty"`
}

// GET /api/tasks
func ListTasks(c *fiber.Ctx) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	limit := utils.ParseIntDefault(c.Query("limit"), 50)
	offset := utils.ParseIntDefault(c.Query("offset"), 0)

	q := db.Model(&models.DisputeTask{}).Order("due_at ASC")
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		q = q.Where("status = ?", status)
	} else {
		q = q.Where("status IN ?", []string{models.TaskPending, models.TaskInProgress})
	}
	if assignee := strings.TrimSpace(c.Query("assigned_to")); assignee != "" {
		q = q.Where("assigned_to = ?", assignee)
	}
	if disputeId := strings.TrimSpace(c.Query("dispute_id")); disputeId != "" {
		q = q.Where("dispute_id = ?", disputeId)
	}

	var tasks []models.DisputeTask
	if err := q.Limit(limit).Offset(offset).Find(&tasks).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "db error")
	}
	return c.JSON(fiber.Map{"tasks": tasks, "limit": limit, "offset": offset})
}

// POST /api/tasks/:id/start
func StartTask(c *fiber.Ctx) error {
	return setTaskStatus(c, models.TaskInProgress, "")
}

// POST /api/tasks/:id/complete
func CompleteTask(c *fiber.Ctx) error {
	var in TaskCompleteDTO
	if err := middlewares.BindAndValidate(c, &in); err != nil {
		return err
	}
	return setTaskStatus(c, models.TaskCompleted, in.Notes)
}

// POST /api/tasks/:id/cancel
func CancelTask(c *fiber.Ctx) error {
	return setTaskStatus(c, models.TaskCancelled, "")
}

func setTaskStatus(c *fiber.Ctx, status, notes string) error {
	db, err := database.GetTenantDB(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "tenant db unavailable")
	}

	var task models.DisputeTask
	if err := db.First(&task, "id = ?", c.Params("id")).Error; err != nil {
		return err
	}
	if !task.Open() {
		return fiber.NewError(fiber.StatusConflict, "task is already "+task.Status)
	}

	task.Status = status
	if status == models.TaskCompleted {
		now := time.Now().UTC()
		userID, _ := c.Locals("userID").(string)
		task.CompletedAt = &now
		task.CompletedBy = userID
		task.CompletionNotes = notes
	}
	if err := db.Save(&task).Error; err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "could not update task")
	}
	return c.JSON(task)
}
