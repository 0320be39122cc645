package routes

import "net/http"

// Resource collections of the admin app. Each gets list, create, read,
// update and delete routes.
var resources = []string{
	"customers",
	"sites",
	"devices",
	"consumables",
	"contracts",
	"service-requests",
	"purchase-requests",
	"users",
	"policies",
	"tenants",
}

// Default returns the built-in route table.
func Default() Table {
	var t Table

	for _, res := range resources {
		t.Routes = append(t.Routes,
			Route{Name: res + ".list", Method: http.MethodGet, Pattern: "/api/" + res, Upstream: "/" + res},
			Route{Name: res + ".create", Method: http.MethodPost, Pattern: "/api/" + res, Upstream: "/" + res},
			Route{Name: res + ".get", Method: http.MethodGet, Pattern: "/api/" + res + "/{id}", Upstream: "/" + res + "/{id}"},
			Route{Name: res + ".update", Method: http.MethodPatch, Pattern: "/api/" + res + "/{id}", Upstream: "/" + res + "/{id}"},
			Route{Name: res + ".replace", Method: http.MethodPut, Pattern: "/api/" + res + "/{id}", Upstream: "/" + res + "/{id}"},
			Route{Name: res + ".delete", Method: http.MethodDelete, Pattern: "/api/" + res + "/{id}", Upstream: "/" + res + "/{id}"},
		)
	}

	t.Routes = append(t.Routes,
		Route{Name: "devices.consumables", Method: http.MethodGet, Pattern: "/api/devices/{id}/consumables", Upstream: "/devices/{id}/consumables"},
		Route{Name: "devices.meter-readings", Method: http.MethodGet, Pattern: "/api/devices/{id}/meter-readings", Upstream: "/devices/{id}/meter-readings"},
		Route{Name: "devices.meter-readings.create", Method: http.MethodPost, Pattern: "/api/devices/{id}/meter-readings", Upstream: "/devices/{id}/meter-readings"},
		Route{Name: "contracts.devices", Method: http.MethodGet, Pattern: "/api/contracts/{id}/devices", Upstream: "/contracts/{id}/devices"},
		Route{Name: "service-requests.attachments", Method: http.MethodPost, Pattern: "/api/service-requests/{id}/attachments", Upstream: "/service-requests/{id}/attachments"},
		Route{Name: "service-requests.transition", Method: http.MethodPost, Pattern: "/api/service-requests/{id}/status", Upstream: "/service-requests/{id}/status"},
		Route{Name: "purchase-requests.approve", Method: http.MethodPost, Pattern: "/api/purchase-requests/{id}/approve", Upstream: "/purchase-requests/{id}/approve"},
		Route{Name: "users.change-password", Method: http.MethodPost, Pattern: "/api/users/me/password", Upstream: "/users/me/password"},
		Route{Name: "dashboard", Method: http.MethodGet, Pattern: "/api/dashboard", Upstream: "/analytics/dashboard"},
		Route{Name: "passthrough", Pattern: "/api/v1/{path...}", Upstream: "/{path...}"},
	)

	return t
}
