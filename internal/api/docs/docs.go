// Package docs serves the OpenAPI document for the JSON-RPC routes through swag.
package docs

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/swaggo/swag"

	"github.com/danghamo/docidentity/pkg/autorouter"
)

// Info is the header of the published document.
type Info struct {
	Title       string
	Version     string
	Description string
}

type document struct {
	mu  sync.RWMutex
	doc string
}

// ReadDoc implements swag.Swagger.
func (d *document) ReadDoc() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.doc
}

var current = &document{doc: "{}"}

func init() {
	swag.Register(swag.Name, current)
}

// Publish replaces the served document with one describing routes.
func Publish(info Info, routes []autorouter.HandlerInfo) error {
	raw, err := json.Marshal(Build(info, routes))
	if err != nil {
		return err
	}

	current.mu.Lock()
	defer current.mu.Unlock()
	current.doc = string(raw)
	return nil
}

// Build returns the swagger 2.0 document for routes.
func Build(info Info, routes []autorouter.HandlerInfo) map[string]any {
	paths := make(map[string]any, len(routes))
	for _, r := range routes {
		method := strings.TrimPrefix(r.URLPath, "/api/v1/")
		group, _, _ := strings.Cut(method, ".")

		op := map[string]any{
			"summary":     method,
			"operationId": method,
			"tags":        []string{group},
			"consumes":    []string{"application/json"},
			"produces":    []string{"application/json"},
			"parameters": []any{map[string]any{
				"in":       "body",
				"name":     "request",
				"required": true,
				"schema":   map[string]any{"$ref": "#/definitions/jsonrpcx.Request"},
			}},
			"responses": map[string]any{
				"200": map[string]any{
					"description": "JSON-RPC response; failures carry the error member",
					"schema":      map[string]any{"$ref": "#/definitions/jsonrpcx.Response"},
				},
			},
		}
		if r.HasAuth {
			op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		paths[r.URLPath] = map[string]any{"post": op}
	}

	return map[string]any{
		"swagger": "2.0",
		"info": map[string]any{
			"title":       info.Title,
			"version":     info.Version,
			"description": info.Description,
		},
		"basePath": "/",
		"paths":    paths,
		"securityDefinitions": map[string]any{
			"BearerAuth": map[string]any{"type": "apiKey", "name": "Authorization", "in": "header"},
		},
		"definitions": map[string]any{
			"jsonrpcx.Request": map[string]any{
				"type":     "object",
				"required": []string{"jsonrpc", "method"},
				"properties": map[string]any{
					"jsonrpc": map[string]any{"type": "string", "example": "2.0"},
					"method":  map[string]any{"type": "string"},
					"params":  map[string]any{"type": "object"},
					"id":      map[string]any{"type": "string"},
				},
			},
			"jsonrpcx.Response": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"jsonrpc": map[string]any{"type": "string", "example": "2.0"},
					"result":  map[string]any{"type": "object"},
					"error": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"code":    map[string]any{"type": "integer"},
							"message": map[string]any{"type": "string"},
						},
					},
					"id": map[string]any{"type": "string"},
				},
			},
		},
	}
}
