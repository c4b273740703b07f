package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/pulsecrm/delivery/internal/http/dto"
	"github.com/pulsecrm/delivery/internal/models"
)

type MetaHandler struct{}

func NewMetaHandler() *MetaHandler {
	return &MetaHandler{}
}

type MetaOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var segmentFields = []MetaOption{
	{ID: models.FieldTotalSpent, Label: "Total spent"},
	{ID: models.FieldVisits, Label: "Visits"},
	{ID: models.FieldLastVisit, Label: "Last visit"},
	{ID: models.FieldCreatedAt, Label: "Customer since"},
}

var segmentOperators = []MetaOption{
	{ID: models.OpGreater, Label: "greater than"},
	{ID: models.OpLess, Label: "less than"},
	{ID: models.OpGreaterEqual, Label: "at least"},
	{ID: models.OpLessEqual, Label: "at most"},
	{ID: models.OpEqual, Label: "equals"},
	{ID: models.OpNotEqual, Label: "not equal to"},
	{ID: models.OpDaysAgo, Label: "more than N days ago"},
}

var messagePlaceholders = []MetaOption{
	{ID: "{customerName}", Label: "Customer name"},
	{ID: "{customerEmail}", Label: "Customer email"},
	{ID: "{totalSpent}", Label: "Total spent"},
	{ID: "{visits}", Label: "Visit count"},
}

func (h *MetaHandler) GetSegmentFields(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"fields":    segmentFields,
		"operators": segmentOperators,
	}})
}

func (h *MetaHandler) GetPlaceholders(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: messagePlaceholders})
}
