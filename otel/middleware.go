package otel

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
)

// EchoMiddleware starts a span for every request on the tracer named
// tracerName, using whatever TracerProvider Init last registered (a no-op
// tracer if Init was never called or returned nil). Handlers downstream can
// read the resulting trace/span IDs via GetTraceID/GetSpanID.
func EchoMiddleware(tracerName string) echo.MiddlewareFunc {
	tracer := otel.Tracer(tracerName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracer.Start(c.Request().Context(), c.Request().Method+" "+c.Path())
			defer span.End()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
