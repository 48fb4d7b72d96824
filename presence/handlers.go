package presence

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the Presence Tracker HTTP contract from spec.md §6.
type Handlers struct {
	tracker *Tracker
}

// NewHandlers wraps a Tracker with its Echo route handlers.
func NewHandlers(tracker *Tracker) *Handlers {
	return &Handlers{tracker: tracker}
}

// Register mounts the presence routes onto g.
func (h *Handlers) Register(g *echo.Group) {
	g.POST("/presence/:documentId/:userId", h.upsert)
	g.GET("/presence/:documentId", h.list)
}

type upsertResponse struct {
	Status string `json:"status"`
}

func (h *Handlers) upsert(c echo.Context) error {
	documentID := c.Param("documentId")
	userID := c.Param("userId")

	var in UpsertInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed presence payload")
	}

	if err := h.tracker.Upsert(c.Request().Context(), documentID, userID, in); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, upsertResponse{Status: "ok"})
}

type listResponse struct {
	Users []Record `json:"users"`
}

func (h *Handlers) list(c echo.Context) error {
	documentID := c.Param("documentId")

	records, err := h.tracker.List(c.Request().Context(), documentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, listResponse{Users: records})
}
