package planner

import (
	"fmt"

	"dreamplan/internal/config"
	"dreamplan/internal/schedule"
)

// Request is one planning request: the scheduling context plus the dream
// snapshot. On the wire the dream fields sit at the top level next to
// "context".
type Request struct {
	Context schedule.SchedulingContext `json:"context"`
	schedule.Input
}

// DecodeRequest decodes a JSON or YAML request document; the format follows
// the extension of path. Unknown fields are rejected.
func DecodeRequest(path string, data []byte) (Request, error) {
	var req Request
	if err := config.DecodeStrict(path, data, &req); err != nil {
		return Request{}, fmt.Errorf("request %s: %w", path, err)
	}
	return req, nil
}
