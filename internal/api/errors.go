package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"entityflow/internal/engine"
	"entityflow/internal/metadata"
	"entityflow/internal/schema"
)

// ErrorHandler renders AppErrors with their own status and hides
// everything else behind a generic 500.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		var appErr *engine.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
		}

		var schemaErr *schema.SchemaError
		if errors.As(err, &schemaErr) {
			if schemaErr.NotFound() {
				return c.Status(404).JSON(engine.ErrorResponse{
					Error: engine.NewAppError("UNKNOWN_TABLE", 404, "Unknown table: "+schemaErr.Table),
				})
			}
			if metadata.IsInvalid(err) {
				logger.Error("table metadata rejected", zap.String("table", schemaErr.Table), zap.Error(err))
				return c.Status(500).JSON(engine.ErrorResponse{
					Error: engine.NewAppError("INVALID_METADATA", 500, "Table "+schemaErr.Table+" has invalid metadata"),
				})
			}
			logger.Error("schema error", zap.String("table", schemaErr.Table), zap.Error(err))
			return c.Status(500).JSON(engine.ErrorResponse{
				Error: engine.NewAppError("INVALID_SCHEMA", 500, "Table "+schemaErr.Table+" is misconfigured"),
			})
		}

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(engine.ErrorResponse{
				Error: engine.NewAppError("HTTP_ERROR", fiberErr.Code, fiberErr.Message),
			})
		}

		logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(500).JSON(engine.ErrorResponse{
			Error: engine.NewAppError("INTERNAL_ERROR", 500, "Internal server error"),
		})
	}
}
