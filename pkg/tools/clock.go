package tools

import (
	"context"
	"fmt"
	"time"
)

// ClockTool reports the current date and time, optionally in a named
// IANA timezone.
type ClockTool struct {
	now func() time.Time
}

func NewClockTool() *ClockTool {
	return &ClockTool{now: time.Now}
}

func (t *ClockTool) Name() string {
	return "clock"
}

func (t *ClockTool) Description() string {
	return "Get the current date and time. Optionally pass an IANA timezone name such as Europe/Amsterdam."
}

func (t *ClockTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"timezone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name. Defaults to the local timezone.",
			},
		},
	}
}

func (t *ClockTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	now := t.now()
	if tz, ok := stringArg(args, "timezone"); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return ErrorResult(fmt.Sprintf("unknown timezone %q", tz)).WithError(err)
		}
		now = now.In(loc)
	}
	return SuccessResult(now.Format("Monday, 2 January 2006 15:04:05 MST"))
}
