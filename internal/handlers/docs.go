package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description string, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema,
	}
}

var snapshotParams = []object{
	queryParam("trip_date", "Only rows for this service day (YYYY-MM-DD)", object{"type": "string", "format": "date"}),
	queryParam("page", "Page number (default: 1)", object{"type": "integer", "default": 1}),
	queryParam("limit", "Records per page (default: 100, max: 1000)", object{"type": "integer", "default": 100}),
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func props(kv ...string) object {
	p := object{}
	for i := 0; i+1 < len(kv); i += 2 {
		switch kv[i+1] {
		case "number?":
			p[kv[i]] = object{"type": "number", "nullable": true}
		case "date":
			p[kv[i]] = object{"type": "string", "format": "date"}
		default:
			p[kv[i]] = object{"type": kv[i+1]}
		}
	}
	return p
}

func page(item object) object {
	return object{
		"type": "object",
		"properties": object{
			"data":        object{"type": "array", "items": object{"type": "object", "properties": item}},
			"total":       object{"type": "integer"},
			"page":        object{"type": "integer"},
			"limit":       object{"type": "integer"},
			"total_pages": object{"type": "integer"},
		},
	}
}

func snapshotPath(summary, description string, item object) object {
	return object{
		"get": object{
			"summary":     summary,
			"description": description,
			"parameters":  snapshotParams,
			"responses": object{
				"200": jsonResponse("Successful response", page(item)),
				"400": jsonResponse("Invalid trip_date", object{"type": "object"}),
			},
		},
	}
}

var geometry = []string{
	"mean_start_lat", "number?", "mean_start_lon", "number?",
	"mean_end_lat", "number?", "mean_end_lon", "number?",
}

// OpenAPISpec returns the OpenAPI 3.0 document for the snapshot API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	flow := props(append([]string{
		"object_id", "integer", "trip_date", "date", "origin_zone", "string", "dest_zone", "string",
		"service_group", "string", "provider", "string", "route_label", "string",
		"leg_count", "integer", "trip_count", "integer", "transfer_trip_count", "integer",
		"avg_manhattan_mi", "number?", "avg_euclidean_mi", "number?", "avg_duration_min", "number?",
	}, geometry...)...)

	hotspot := props(
		"object_id", "integer", "trip_date", "date", "hotspot_key", "string", "hotspot_hash", "string",
		"provider", "string", "stop_name", "string", "to_route_label", "string", "transfer_type", "string",
		"transfer_events", "integer", "transfer_trips", "integer",
		"mean_lat", "number?", "mean_lon", "number?", "avg_duration_min", "number?",
	)

	walk := props(append([]string{
		"object_id", "integer", "trip_date", "date", "direction", "string",
		"related_service_group", "string", "related_route_label", "string", "stop_name", "string",
		"walk_legs", "integer", "trip_count", "integer",
		"avg_duration_min", "number?", "avg_manhattan_mi", "number?", "avg_euclidean_mi", "number?",
	}, geometry...)...)

	run := props(
		"run_id", "string", "started_at", "string", "finished_at", "string",
		"window_start", "string", "window_end", "string", "region_prefix", "string",
		"legs_in_window", "integer", "status", "string", "error_message", "string",
	)
	run["row_counts"] = object{"type": "object", "additionalProperties": object{"type": "integer"}}

	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Mobility Rollups API",
			"description": "Read-only access to the published flow, transfer hotspot and walk egress snapshots",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/snapshots/flows": snapshotPath("Flow snapshot",
				"Route-qualified origin to destination flows in the current window", flow),
			"/api/snapshots/hotspots": snapshotPath("Transfer hotspot snapshot",
				"Route-qualified transfer hotspots in the current window", hotspot),
			"/api/snapshots/walk-egress": snapshotPath("Walk egress snapshot",
				"Walk legs leaving a transit leg in the current window", walk),
			"/api/refresh/latest": object{
				"get": object{
					"summary": "Latest refresh run",
					"responses": object{
						"200": jsonResponse("Most recent refresh", object{"type": "object", "properties": run}),
						"404": jsonResponse("No refresh has run", object{"type": "object"}),
					},
				},
			},
			"/health": object{
				"get": object{
					"summary":     "Health check",
					"description": "Reports whether the database is reachable",
					"responses": object{
						"200": jsonResponse("API is healthy", object{"type": "object", "properties": props("status", "string")}),
						"503": jsonResponse("Database unreachable", object{"type": "object", "properties": props("status", "string")}),
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
