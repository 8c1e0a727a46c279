package handlers

import (
	"encoding/json"
	"net/http"
)

func jsonContent(schema interface{}) map[string]interface{} {
	return map[string]interface{}{
		"application/json": map[string]interface{}{"schema": schema},
	}
}

func queryParam(name, typ, description string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      map[string]string{"type": typ},
	}
}

var errorSchema = map[string]interface{}{"$ref": "#/components/schemas/Error"}

// OpenAPISpec serves the OpenAPI 3.0 description of the station API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Weather Archive Station API",
			"description": "Resolves locations to their nearest active archive stations and downloads the matching observations",
			"version":     "1.0.0",
		},
		"paths": map[string]interface{}{
			"/api/v1/resolve": map[string]interface{}{
				"post": map[string]interface{}{
					"summary": "Resolve points to stations and download station-years",
					"requestBody": map[string]interface{}{
						"required": true,
						"content": jsonContent(map[string]interface{}{
							"type":     "object",
							"required": []string{"points", "start_year", "end_year"},
							"properties": map[string]interface{}{
								"points": map[string]interface{}{
									"type":  "array",
									"items": map[string]interface{}{"$ref": "#/components/schemas/QueryPoint"},
								},
								"start_year": map[string]string{"type": "integer"},
								"end_year":   map[string]string{"type": "integer"},
								"tables": map[string]interface{}{
									"type":        "array",
									"items":       map[string]string{"type": "string"},
									"description": "Defaults to every configured table",
								},
								"columns": map[string]interface{}{
									"type":                 "object",
									"additionalProperties": map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
									"description":          "Column subset per table, overriding the configured one",
								},
								"k":       map[string]interface{}{"type": "integer", "default": 3},
								"persist": map[string]interface{}{"type": "boolean", "default": false},
							},
						}),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Consolidated station map and dataset summaries",
							"content": jsonContent(map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"run_id": map[string]string{"type": "string", "format": "uuid"},
									"station_map": map[string]interface{}{
										"type":        "array",
										"description": "One record per (loc_id, year) with a src_id_<table> column per table",
										"items":       map[string]string{"type": "object"},
									},
									"datasets": map[string]interface{}{
										"type": "array",
										"items": map[string]interface{}{
											"type": "object",
											"properties": map[string]interface{}{
												"table": map[string]string{"type": "string"},
												"year":  map[string]string{"type": "integer"},
												"rows":  map[string]string{"type": "integer"},
											},
										},
									},
									"skipped_tables": map[string]interface{}{
										"type":  "array",
										"items": map[string]string{"type": "string"},
									},
								},
							}),
						},
						"400": map[string]interface{}{"description": "Invalid request or unknown table", "content": jsonContent(errorSchema)},
						"502": map[string]interface{}{"description": "Archive unreachable or malformed", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/api/v1/stations/{table}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Rank the stations active in a year by distance from a point",
					"parameters": []map[string]interface{}{
						{
							"name":     "table",
							"in":       "path",
							"required": true,
							"schema":   map[string]string{"type": "string"},
						},
						queryParam("lat", "number", "Latitude in degrees", true),
						queryParam("lon", "number", "Longitude in degrees", true),
						queryParam("year", "integer", "Year the stations must be active in", true),
						queryParam("k", "integer", "Number of candidates (default: 3)", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Candidates, nearest first",
							"content": jsonContent(map[string]interface{}{
								"type": "array",
								"items": map[string]interface{}{
									"type": "object",
									"properties": map[string]interface{}{
										"src_id":            map[string]string{"type": "integer"},
										"station_latitude":  map[string]string{"type": "number"},
										"station_longitude": map[string]string{"type": "number"},
										"distance_km":       map[string]string{"type": "number"},
									},
								},
							}),
						},
						"404": map[string]interface{}{"description": "No metadata for the table", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/api/v1/stations/{table}/{id}/{year}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Download one station's observations for one year",
					"parameters": []map[string]interface{}{
						{"name": "table", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
						{"name": "id", "in": "path", "required": true, "schema": map[string]string{"type": "integer"}},
						{"name": "year", "in": "path", "required": true, "schema": map[string]string{"type": "integer"}},
						queryParam("columns", "string", "Comma-separated column subset (default: configured)", false),
						queryParam("format", "string", "json, csv or excel (default: json)", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "Observation rows in the requested format; empty when the archive has no file"},
						"400": map[string]interface{}{"description": "Unknown table or format", "content": jsonContent(errorSchema)},
						"404": map[string]interface{}{"description": "Station not in metadata", "content": jsonContent(errorSchema)},
						"502": map[string]interface{}{"description": "Archive unreachable or malformed", "content": jsonContent(errorSchema)},
					},
				},
			},
			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Health check, including the database when persistence is configured",
					"responses": map[string]interface{}{
						"200": map[string]string{"description": "API is healthy"},
						"503": map[string]string{"description": "Database unreachable"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":   "Prometheus metrics",
					"responses": map[string]interface{}{"200": map[string]string{"description": "Prometheus metrics in text format"}},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"QueryPoint": map[string]interface{}{
					"type":     "object",
					"required": []string{"id", "lat", "lon"},
					"properties": map[string]interface{}{
						"id":  map[string]string{"type": "string"},
						"lat": map[string]interface{}{"type": "number", "minimum": -90, "maximum": 90},
						"lon": map[string]interface{}{"type": "number", "minimum": -180, "maximum": 180},
					},
				},
				"Error": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"error":   map[string]string{"type": "string"},
						"message": map[string]string{"type": "string"},
						"code":    map[string]string{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
