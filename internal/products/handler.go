package products

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	store Store
	log   logrus.FieldLogger
}

func NewHandler(store Store, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{store: store, log: log}
}

// Register вешает маршруты отчётного API на группу /api.
func (h *Handler) Register(api gin.IRouter) {
	api.GET("/items", h.ListItems)
	api.POST("/items", h.CreateItem)
	api.GET("/items/:id", h.GetItem)
	api.DELETE("/items/:id", h.DeleteItem)
	api.GET("/items/:id/history", h.GetPriceHistory)
}

type createItemRequest struct {
	ID       string `json:"id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	ImageRef string `json:"image_ref"`
}

type listItemsResponse struct {
	Items      []ItemView `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
}

// CreateItem registers an item by hand. No price observation is recorded.
func (h *Handler) CreateItem(c *gin.Context) {
	var input createItemRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	ctx := c.Request.Context()
	var change UpsertResult
	err := h.store.WithItem(ctx, id, func(tx ItemTx) error {
		var err error
		change, err = tx.UpsertItem(ctx, id, strings.TrimSpace(input.Name), strings.TrimSpace(input.ImageRef))
		return err
	})
	if err != nil {
		h.fail(c, "CreateItem", err, "failed to save item")
		return
	}

	view, err := h.store.GetItem(ctx, id)
	if err != nil {
		h.fail(c, "CreateItem", err, "failed to fetch item")
		return
	}
	status := http.StatusOK
	if change == ItemCreated {
		status = http.StatusCreated
	}
	c.JSON(status, view)
}

func (h *Handler) ListItems(c *gin.Context) {
	params := ListParams{
		Page:    queryInt(c, "page"),
		PerPage: queryInt(c, "per_page"),
	}.Normalize()

	items, total, err := h.store.ListItems(c.Request.Context(), params)
	if err != nil {
		h.fail(c, "ListItems", err, "failed to fetch items")
		return
	}
	if items == nil {
		items = []ItemView{}
	}
	c.JSON(http.StatusOK, listItemsResponse{
		Items:      items,
		TotalCount: total,
		Page:       params.Page,
		PerPage:    params.PerPage,
	})
}

func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.store.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "GetItem", err, "failed to fetch item")
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) GetPriceHistory(c *gin.Context) {
	hist, err := h.store.GetPriceHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "GetPriceHistory", err, "failed to fetch history")
		return
	}
	if hist == nil {
		hist = []PriceObservation{}
	}
	c.JSON(http.StatusOK, hist)
}

// DeleteItem removes the item together with its history.
func (h *Handler) DeleteItem(c *gin.Context) {
	if err := h.store.DeleteItem(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "DeleteItem", err, "failed to delete item")
		return
	}
	c.Status(http.StatusNoContent)
}

// Health reports whether the store answers.
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.log.WithError(err).Warn("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// fail переводит ошибку хранилища в HTTP-ответ.
func (h *Handler) fail(c *gin.Context, op string, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": msg})
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log.WithField("op", op).WithError(err).Error("store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg})
	default:
		h.log.WithField("op", op).WithError(err).Error("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// queryInt returns 0 for a missing or non-numeric parameter; ListParams
// normalization turns that into the default.
func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}
