// Package docs registers the OpenAPI description served by gin-swagger under
// /swagger. It mirrors the swag annotations on the handlers; running
// `swag init -g cmd/athena/main.go -o internal/http/docs` regenerates it.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/identities/resolve": {
            "post": {
                "description": "Returns the canonical user for a platform identity, creating it on first contact.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Identities"],
                "summary": "Resolve a platform identity",
                "operationId": "resolveIdentity",
                "parameters": [
                    {"description": "Platform identity", "name": "body", "in": "body", "required": true,
                     "schema": {"$ref": "#/definitions/handlers.ResolveIdentityRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ResolveIdentityResponse"}},
                    "400": {"description": "Invalid identity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "Get a canonical user",
                "operationId": "getUser",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Canonical user id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.UserResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{id}/links": {
            "post": {
                "description": "Links are never re-pointed: an identity already linked elsewhere yields 409.",
                "consumes": ["application/json"],
                "tags": ["Users"],
                "summary": "Link a platform identity to a user",
                "operationId": "linkPlatform",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Canonical user id", "name": "id", "in": "path", "required": true},
                    {"description": "Identity to link", "name": "body", "in": "body", "required": true,
                     "schema": {"$ref": "#/definitions/handlers.LinkPlatformRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Invalid identity", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "User not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "Identity linked to another user", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users/{id}/messages": {
            "get": {
                "description": "Returns the newest messages of a canonical user in chronological order.",
                "produces": ["application/json"],
                "tags": ["Users"],
                "summary": "List a user's messages",
                "operationId": "listUserMessages",
                "parameters": [
                    {"type": "string", "format": "uuid", "description": "Canonical user id", "name": "id", "in": "path", "required": true},
                    {"maximum": 200, "minimum": 1, "type": "integer", "default": 10, "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "string", "description": "Opaque cursor from a previous page", "name": "cursor", "in": "query"},
                    {"type": "string", "description": "Return 304 if ETag matches", "name": "If-None-Match", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "headers": {"ETag": {"type": "string", "description": "Weak ETag for this page"}},
                            "schema": {"$ref": "#/definitions/handlers.ListMessagesResponse"}},
                    "304": {"description": "Not Modified"},
                    "400": {"description": "Bad cursor", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/backfill": {
            "post": {
                "description": "Runs the ledger owner migration synchronously and returns its report.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Backfill"],
                "summary": "Migrate legacy messages to canonical owners",
                "operationId": "runBackfill",
                "parameters": [
                    {"description": "Run options", "name": "body", "in": "body",
                     "schema": {"$ref": "#/definitions/handlers.RunBackfillRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Report"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "409": {"description": "A run is already in progress", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "user_not_found"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "handlers.ResolveIdentityRequest": {
            "type": "object",
            "required": ["platform", "platform_user_id"],
            "properties": {
                "platform": {"type": "string", "maxLength": 32, "example": "mobile"},
                "platform_user_id": {"type": "string", "maxLength": 128, "example": "device-7f3a"},
                "display_name": {"type": "string", "maxLength": 255, "example": "Alice"}
            }
        },
        "handlers.ResolveIdentityResponse": {
            "type": "object",
            "properties": {
                "canonical_user_id": {"type": "string"},
                "path": {"type": "string", "example": "fast"}
            }
        },
        "handlers.LinkPlatformRequest": {
            "type": "object",
            "required": ["platform", "platform_user_id"],
            "properties": {
                "platform": {"type": "string"},
                "platform_user_id": {"type": "string"}
            }
        },
        "handlers.UserResponse": {
            "type": "object",
            "properties": {
                "user": {"type": "object"},
                "links": {"type": "array", "items": {"type": "object"}}
            }
        },
        "handlers.ListMessagesResponse": {
            "type": "object",
            "properties": {
                "messages": {"type": "array", "items": {"type": "object"}},
                "next_cursor": {"type": "string"}
            }
        },
        "handlers.RunBackfillRequest": {
            "type": "object",
            "properties": {
                "page_size": {"type": "integer", "minimum": 1, "maximum": 5000},
                "resume": {"type": "boolean"}
            }
        },
        "services.Report": {
            "type": "object",
            "properties": {
                "scanned": {"type": "integer"},
                "updated": {"type": "integer"},
                "skipped": {"type": "integer"},
                "already_migrated": {"type": "integer"},
                "failed": {"type": "integer"},
                "cursor": {"type": "string"},
                "completed": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Athena Admin API",
	Description:      "Identity resolution, message ledger and backfill endpoints of the Athena bot.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
