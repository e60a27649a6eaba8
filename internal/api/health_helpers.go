package api

import (
	"context"
	"net/http"
	"sort"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// componentHealth pings the datastore and every optional probe. Only an
// unreachable datastore makes the service unavailable; a failing probe marks
// it degraded.
func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error, required bool) componentStatus {
		if err == nil {
			return componentStatus{Component: component, Status: "ok"}
		}
		if statusCode == http.StatusOK {
			overallStatus = "degraded"
		}
		if required {
			overallStatus = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: "degraded", Error: err.Error()}
	}

	components := make([]componentStatus, 0, 1+len(h.Probes))
	if h.Recipes != nil {
		components = append(components, recordComponent("datastore", h.Recipes.Ping(ctx), true))
	}

	names := make([]string, 0, len(h.Probes))
	for name := range h.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		components = append(components, recordComponent(name, h.Probes[name].Ping(ctx), false))
	}

	return components, overallStatus, statusCode
}
