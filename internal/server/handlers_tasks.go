package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dcstrange/websocket-push-system/internal/taskstore"
)

type taskStatusResponse struct {
	ID        string    `json:"id"`
	RequestID string    `json:"requestId"`
	DataType  string    `json:"dataType"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// handleTaskStatus returns the stored lifecycle of a task. Tasks owned by
// other users read as not found, same as ids that never existed.
func (s *Server) handleTaskStatus(c echo.Context) error {
	userID, _ := c.Get(contextKeyUserID).(string)
	taskID := c.Param("id")

	rec, err := s.deps.Tasks.Get(c.Request().Context(), taskID)
	if errors.Is(err, taskstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}
	if err != nil {
		slog.Error("task lookup failed", "task_id", taskID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}

	if rec.UserID != userID {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "task not found"})
	}

	return c.JSON(http.StatusOK, taskStatusResponse{
		ID:        rec.ID,
		RequestID: rec.RequestID,
		DataType:  rec.DataType,
		Status:    string(rec.Status),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	})
}
