package tracking

import (
	"context"
	"errors"

	"backend-vehiclecare/internal/device"
	"backend-vehiclecare/internal/tracker"
	"backend-vehiclecare/internal/vehicle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/vehicles/:id/start", authMiddleware, func(c *fiber.Ctx) error {
		session, err := svc.StartSession(c.Context(), vehicle.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(session)
	})

	r.Post("/vehicles/:id/stop", authMiddleware, func(c *fiber.Ctx) error {
		result, err := svc.StopSession(c.Context(), vehicle.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(result)
	})

	r.Get("/vehicles/:id/status", authMiddleware, func(c *fiber.Ctx) error {
		status, err := svc.Status(c.Context(), vehicle.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(status)
	})

	r.Get("/vehicles/:id/sessions", authMiddleware, func(c *fiber.Ctx) error {
		sessions, err := svc.Sessions(c.Context(), vehicle.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(sessions)
	})

	r.Post("/vehicles/:id/fixes", authMiddleware, func(c *fiber.Ctx) error {
		var req device.Reading
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		n, err := svc.PushFix(c.Context(), vehicle.UserID(c), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"delivered": n})
	})

	r.Post("/vehicles/:id/permission", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			State       tracker.PermissionState `json:"state"`
			Geolocation *bool                   `json:"geolocation"`
		}
		if err := c.BodyParser(&body); err != nil || body.State == "" {
			return fiber.NewError(fiber.StatusBadRequest, "state required")
		}
		geolocation := body.Geolocation == nil || *body.Geolocation
		snap, err := svc.ReportPermission(c.Context(), vehicle.UserID(c), c.Params("id"), body.State, geolocation)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(snap)
	})

	r.Get("/vehicles/:id/device", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		d, release, err := svc.AttachDevice(c.Context(), vehicle.UserID(c), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		c.Locals("device", d)
		c.Locals("release", release)
		return c.Next()
	}, websocket.New(func(conn *websocket.Conn) {
		d := conn.Locals("device").(*device.Device)
		release := conn.Locals("release").(func())
		defer release()
		d.Serve(context.Background(), conn)
	}))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, tracker.ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, tracker.ErrUnsupported):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tracker.ErrAlreadyTracking),
		errors.Is(err, ErrNoSession),
		errors.Is(err, ErrSessionPending),
		errors.Is(err, ErrDeviceAttached):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, vehicle.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, device.ErrInvalidFix),
		errors.Is(err, device.ErrInvalidPermission),
		errors.Is(err, vehicle.ErrInvalidKm):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

// WatcherGuard admits stream watchers only for vehicles the caller owns.
func WatcherGuard(svc *Service, param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, err := svc.entry(c.Context(), vehicle.UserID(c), c.Params(param)); err != nil {
			return httpError(err)
		}
		return c.Next()
	}
}
