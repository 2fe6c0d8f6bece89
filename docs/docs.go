// Package docs holds the OpenAPI document served under -tags=swagger.
// Regenerate with `make swagger-gen` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "modelproxy maintainers"
        },
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/api/v1/deploy-model": {
            "post": {
                "description": "Creates the user's deployment and starts loading in the background. Poll deployment-status for the outcome.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Deploy a model for a user",
                "parameters": [
                    {
                        "description": "Deploy request",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.DeployRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeployResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/deployment-status/{user_id}": {
            "get": {
                "description": "Includes the API key only when the deployment requires one.",
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Deployment status",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.DeploymentStatus"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/deployments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List all deployments",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/api/v1/deployments/{user_id}": {
            "delete": {
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Delete a deployment",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/deployments/{user_id}/stop": {
            "post": {
                "description": "Releases the model and keeps the record as stopped.",
                "produces": ["application/json"],
                "tags": ["deployments"],
                "summary": "Stop a deployment",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Aggregate server status",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/v1/search-models": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["models"],
                "summary": "Search the model hub",
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/api/v1/settings": {
            "get": {
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Effective configuration (secrets masked)",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/user/{user_id}/v1/models": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["openai"],
                "summary": "OpenAI-compatible model list for a user's endpoint",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/user/{user_id}/v1/chat/completions": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Set stream=true for Server-Sent Events of chat.completion.chunk objects ending with [DONE].",
                "consumes": ["application/json"],
                "produces": ["application/json", "text/event-stream"],
                "tags": ["openai"],
                "summary": "OpenAI-compatible chat completion",
                "parameters": [
                    {"type": "string", "description": "User id", "name": "user_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Liveness with uptime",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "integer", "example": 400},
                "error": {"type": "string", "example": "invalid JSON body"}
            }
        },
        "types.DeployRequest": {
            "type": "object",
            "properties": {
                "api_key_enabled": {"type": "boolean", "example": true},
                "backend": {"type": "string", "example": "llama"},
                "custom_config": {"type": "object", "additionalProperties": true},
                "model_name": {"type": "string", "example": "tinyllama-1.1b-chat.Q4_K_M.gguf"},
                "user_id": {"type": "string", "example": "u1"}
            }
        },
        "types.DeployResponse": {
            "type": "object",
            "properties": {
                "api_key_enabled": {"type": "boolean", "example": true},
                "backend": {"type": "string", "example": "llama"},
                "message": {"type": "string", "example": "Deployment started"},
                "model_name": {"type": "string", "example": "tinyllama-1.1b-chat.Q4_K_M.gguf"},
                "status": {"type": "string", "example": "deploying"},
                "user_id": {"type": "string", "example": "u1"}
            }
        },
        "types.DeploymentStatus": {
            "type": "object",
            "properties": {
                "api_key": {"type": "string", "example": "sk-3q2..."},
                "api_key_enabled": {"type": "boolean", "example": true},
                "backend": {"type": "string", "example": "llama"},
                "base_url": {"type": "string", "example": "http://localhost:8000/user/u1/v1"},
                "created_at": {"type": "integer", "example": 1700000000},
                "error_message": {"type": "string"},
                "loaded_at": {"type": "integer"},
                "model_name": {"type": "string", "example": "tinyllama-1.1b-chat.Q4_K_M.gguf"},
                "status": {"type": "string", "example": "ready"},
                "updated_at": {"type": "integer", "example": 1700000005},
                "user_id": {"type": "string", "example": "u1"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "modelproxy API",
	Description:      "Multi-tenant model deployment proxy with per-user OpenAI-compatible endpoints.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
