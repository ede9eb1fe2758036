package vehicle

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Use(authMiddleware)

	r.Get("/", func(c *fiber.Ctx) error {
		vehicles, err := svc.ListVehicles(c.Context(), UserID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(vehicles)
	})

	r.Post("/", func(c *fiber.Ctx) error {
		var req Vehicle
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		v, err := svc.AddVehicle(c.Context(), UserID(c), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(v)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		v, err := svc.GetVehicle(c.Context(), UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(v)
	})

	r.Get("/:id/detail", func(c *fiber.Ctx) error {
		detail, err := svc.Detail(c.Context(), UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(detail)
	})

	r.Get("/:id/interventions", func(c *fiber.Ctx) error {
		interventions, err := svc.Interventions(c.Context(), UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(interventions)
	})

	r.Get("/:id/alerts", func(c *fiber.Ctx) error {
		alerts, err := svc.Alerts(c.Context(), UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(alerts)
	})

	r.Put("/:id/kilometers", func(c *fiber.Ctx) error {
		var body struct {
			Km *int64 `json:"km"`
		}
		if err := c.BodyParser(&body); err != nil || body.Km == nil {
			return fiber.NewError(fiber.StatusBadRequest, "km required")
		}
		v, err := svc.UpdateKilometers(c.Context(), UserID(c), c.Params("id"), *body.Km)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(v)
	})
}

// UserID returns the caller stored by the auth middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidVehicle), errors.Is(err, ErrInvalidKm):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
