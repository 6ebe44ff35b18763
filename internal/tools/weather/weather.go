// Package weather provides the get_current_weather demonstration tool.
package weather

import (
	"context"
	"strings"

	"github.com/haasonsaas/slackagent/internal/tools"
)

// Args are the parameters of get_current_weather.
type Args struct {
	City string `json:"city" jsonschema:"description=City name."`
}

// Report is the weather information returned to the model.
type Report struct {
	City        string `json:"city"`
	Weather     string `json:"weather"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
}

// New returns the get_current_weather tool. It always reports fair weather and
// exists to exercise the function-calling path end to end.
func New() tools.Tool {
	return tools.MustFunc("get_current_weather", "Get current weather at the specified city.",
		func(_ context.Context, args Args) (Report, error) {
			return Report{
				City:        strings.TrimSpace(args.City),
				Weather:     "sunny",
				Temperature: 30,
				Unit:        "C",
			}, nil
		})
}
