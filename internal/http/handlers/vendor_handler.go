package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pulsecrm/delivery/internal/http/dto"
	"github.com/pulsecrm/delivery/internal/vendor"
	"go.uber.org/zap"
)

const vendorTestTimeout = 5 * time.Second

type VendorHandler struct {
	vendors *vendor.Simulator
	log     *zap.Logger
}

func NewVendorHandler(vendors *vendor.Simulator, log *zap.Logger) *VendorHandler {
	return &VendorHandler{vendors: vendors, log: log}
}

func (h *VendorHandler) ListVendors(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: h.vendors.Stats()})
}

func (h *VendorHandler) TestConnection(c *fiber.Ctx) error {
	name := c.Params("name")

	ctx, cancel := context.WithTimeout(c.UserContext(), vendorTestTimeout)
	defer cancel()

	ok, err := h.vendors.TestConnection(ctx, name)
	if errors.Is(err, vendor.ErrUnknownVendor) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "vendor not found"})
	}
	if err != nil {
		h.log.Warn("vendor connection test failed", zap.String("vendor", name), zap.Error(err))
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{Error: "vendor test timed out"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: dto.VendorTestResponse{Vendor: name, Connected: ok}})
}
