package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"
)

// service defines the interface for running export jobs.
type service interface {
	Run(ctx context.Context, exportID string) error
}

// RequestedHandler handles Kafka messages carrying export request ids.
// It relies on a service that implements the export run itself.
type RequestedHandler struct {
	service service
}

// NewRequestedHandler creates a new handler with the given service.
func NewRequestedHandler(s service) *RequestedHandler {
	return &RequestedHandler{service: s}
}

// Handle processes a Kafka message whose value is an export request id and
// runs the export to a terminal state.
func (h *RequestedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	exportID := strings.TrimSpace(string(msg.Value))
	if exportID == "" {
		return fmt.Errorf("handle export request: empty export id")
	}

	if err := h.service.Run(ctx, exportID); err != nil {
		return fmt.Errorf("run export: %w", err)
	}

	zlog.Logger.Printf("export processed: %s", exportID)

	return nil
}
