package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeWarmVariant = "variant:warm"

// WarmVariantPayload asks the worker to generate and persist one variant.
// Path is the un-prefixed variant path, e.g. 300x200_inside/photos/a.jpg.
type WarmVariantPayload struct {
	JobID       string    `json:"job_id"`
	Path        string    `json:"path"`
	Bucket      string    `json:"bucket,omitempty"`
	SourceKey   string    `json:"source_key"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewWarmVariantTask(payload WarmVariantPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal warm payload: %w", err)
	}
	return asynq.NewTask(TypeWarmVariant, body), nil
}

func ParseWarmVariantPayload(task *asynq.Task) (WarmVariantPayload, error) {
	var payload WarmVariantPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return WarmVariantPayload{}, fmt.Errorf("unmarshal warm payload: %w", err)
	}
	if payload.Path == "" {
		return WarmVariantPayload{}, fmt.Errorf("warm payload %s: path is required", payload.JobID)
	}
	return payload, nil
}
