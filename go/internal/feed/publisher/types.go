package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mcdev12/bookiebutcher/go/internal/feed/gateway"
)

// PropUpdate is a prop prediction published to the gateway relays.
type PropUpdate = gateway.CarnageUpdatePayload

// UpdatePublisher publishes prop updates upstream of the gateway.
type UpdatePublisher interface {
	Publish(ctx context.Context, update PropUpdate) error
	Close() error
}

// prepare assigns a prediction ID when missing and encodes the update.
func prepare(update *PropUpdate) ([]byte, error) {
	if update.PredictionID == "" {
		update.PredictionID = uuid.New().String()
	}
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshal update: %w", err)
	}
	return data, nil
}

// subjectToken turns a free form level such as "EXECUTION" into a subject token.
func subjectToken(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return "update"
	}
	return strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_").Replace(level)
}
