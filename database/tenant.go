package database

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// GetTenantDB returns the request's tenant transaction as installed by
// middlewares.TenantTx. Handlers run strictly inside that transaction; its
// SET LOCAL search_path is the only schema pinning, so nothing ever leaks
// onto a pooled connection.
func GetTenantDB(c *fiber.Ctx) (*gorm.DB, error) {
	if v := c.Locals("tx"); v != nil {
		if tx, ok := v.(*gorm.DB); ok && tx != nil {
			return tx, nil
		}
	}
	return nil, errors.New("tenant transaction missing")
}
