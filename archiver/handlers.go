package archiver

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the Snapshot Archiver's read path from spec.md §4.4.
type Handlers struct {
	writer Writer
}

// NewHandlers wraps writer with its Echo route handlers.
func NewHandlers(writer Writer) *Handlers {
	return &Handlers{writer: writer}
}

// Register mounts the archiver routes onto g. The snapshot key contains
// slashes (snapshots/{documentId}/{version}-{epochMs}.json), so the route
// captures it with a trailing wildcard rather than a single :param.
func (h *Handlers) Register(g *echo.Group) {
	g.GET("/snapshots/*", h.getSnapshot)
	g.GET("/documents/:id/snapshots", h.listSnapshots)
}

func (h *Handlers) getSnapshot(c echo.Context) error {
	key := "snapshots/" + c.Param("*")
	url, err := h.writer.PresignGet(c.Request().Context(), key, PresignTTL)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "snapshot not found")
	}
	return c.Redirect(http.StatusTemporaryRedirect, url)
}

type snapshotListEntry struct {
	Key          string `json:"key"`
	Version      int64  `json:"version"`
	Timestamp    int64  `json:"timestamp"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"lastModified"`
}

type snapshotListResponse struct {
	Snapshots []snapshotListEntry `json:"snapshots"`
}

func (h *Handlers) listSnapshots(c echo.Context) error {
	documentID := c.Param("id")

	metas, err := h.writer.ListSnapshots(c.Request().Context(), documentID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// ListSnapshots already returns newest-version-first.
	entries := make([]snapshotListEntry, 0, len(metas))
	for _, m := range metas {
		entries = append(entries, snapshotListEntry{
			Key: m.Key, Version: m.Version,
			Timestamp: m.EpochMs, Size: m.SizeBytes, LastModified: m.EpochMs,
		})
	}

	return c.JSON(http.StatusOK, snapshotListResponse{Snapshots: entries})
}
