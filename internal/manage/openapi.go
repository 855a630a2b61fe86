package manage

// openAPIDocument returns a hand-built OpenAPI 3.0 document describing the
// Management API's /health, /metrics, GET /routes and POST /routes
// endpoints (§4.9); GET / and GET /explorer are not listed in it. Runtime
// schema generation
// (the teacher's openapi package) is not warranted for a surface this
// small — see DESIGN.md.
func openAPIDocument() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Maegashira Management API",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/health": map[string]any{
				"get": map[string]any{
					"summary": "Health check",
					"responses": map[string]any{
						"200": map[string]any{"description": "ok"},
					},
				},
			},
			"/metrics": map[string]any{
				"get": map[string]any{
					"summary": "Cluster-aggregated Prometheus metrics",
					"responses": map[string]any{
						"200": map[string]any{"description": "Prometheus text exposition format"},
					},
				},
			},
			"/routes": map[string]any{
				"get": map[string]any{
					"summary":    "Get the current routing table",
					"security":   []map[string]any{{"bearerAuth": []string{}}},
					"responses":  map[string]any{"200": map[string]any{"description": "the current routing table"}},
				},
				"post": map[string]any{
					"summary":   "Replace the routing table",
					"security":  []map[string]any{{"bearerAuth": []string{}}},
					"responses": map[string]any{
						"200": map[string]any{"description": "OK"},
						"400": map[string]any{"description": "validation failed"},
					},
				},
			},
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
