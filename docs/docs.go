// Package docs holds the OpenAPI description of the HTTP bridge, served at
// /api/swagger. Regenerate it with `swag init -g internal/api/router.go`
// after changing the handler annotations.
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
        "/v1/chat": {
            "get": {
                "description": "Returns the engine state, the active conversation and the in-flight draft, if any.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chat"
                ],
                "summary": "Get the active chat",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.ChatSnapshot"
                        }
                    }
                }
            }
        },
        "/v1/chat/cancel": {
            "post": {
                "description": "Abandons the in-flight reply. Late fragments are discarded.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chat"
                ],
                "summary": "Cancel the reply",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.CancelResponse"
                        }
                    }
                }
            }
        },
        "/v1/chat/events": {
            "get": {
                "description": "Server-sent events: a \"snapshot\" event, then one event per engine change named by its kind.",
                "produces": [
                    "text/event-stream"
                ],
                "tags": [
                    "Chat"
                ],
                "summary": "Chat event stream",
                "responses": {
                    "200": {
                        "description": "Stream of chat events",
                        "schema": {
                            "$ref": "#/definitions/service.ChatEvent"
                        }
                    }
                }
            }
        },
        "/v1/chat/messages": {
            "post": {
                "description": "Appends a user message and starts generating the reply. Fragments arrive on /v1/chat/events.",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chat"
                ],
                "summary": "Send a message",
                "parameters": [
                    {
                        "description": "Message text",
                        "name": "message",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/api.SendMessageRequest"
                        }
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Accepted",
                        "schema": {
                            "$ref": "#/definitions/api.SendMessageResponse"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/chat/new": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chat"
                ],
                "summary": "Start a new chat",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.ChatSnapshot"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/chats": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chats"
                ],
                "summary": "List saved chats",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "array",
                            "items": {
                                "$ref": "#/definitions/model.Conversation"
                            }
                        }
                    }
                }
            }
        },
        "/v1/chats/{chatID}/load": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Chats"
                ],
                "summary": "Open a saved chat",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Conversation ID",
                        "name": "chatID",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.ChatSnapshot"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/models": {
            "get": {
                "description": "Gets the sorted names of all models available locally in Ollama, plus the server version.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Models"
                ],
                "summary": "List local models",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/api.ModelsResponse"
                        }
                    },
                    "502": {
                        "description": "Bad Gateway",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    },
                    "503": {
                        "description": "Service Unavailable",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/models/pull": {
            "post": {
                "description": "Downloads a model from the Ollama registry. This is a streaming endpoint.",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "text/event-stream"
                ],
                "tags": [
                    "Models"
                ],
                "summary": "Pull a new model",
                "parameters": [
                    {
                        "description": "Model Name to Pull",
                        "name": "modelRequest",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/llm.PullModelRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Stream of progress events",
                        "schema": {
                            "$ref": "#/definitions/llm.Progress"
                        }
                    },
                    "400": {
                        "description": "Sent as a stream error event",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/settings": {
            "get": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Settings"
                ],
                "summary": "Get settings",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.Settings"
                        }
                    }
                }
            },
            "put": {
                "description": "Validates and stores the settings. When Ollama is reachable the model must be installed.",
                "consumes": [
                    "application/json"
                ],
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Settings"
                ],
                "summary": "Update settings",
                "parameters": [
                    {
                        "description": "New settings",
                        "name": "settings",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/service.Settings"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/service.Settings"
                        }
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {
                            "$ref": "#/definitions/api.ErrorResponse"
                        }
                    }
                }
            }
        },
        "/v1/status": {
            "get": {
                "description": "Returns the last status observed by the monitor.",
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Status"
                ],
                "summary": "Get server status",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/model.ServerStatus"
                        }
                    }
                }
            }
        },
        "/v1/status/check": {
            "post": {
                "produces": [
                    "application/json"
                ],
                "tags": [
                    "Status"
                ],
                "summary": "Check server status now",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/model.ServerStatus"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "api.CancelResponse": {
            "type": "object",
            "properties": {
                "cancelled": {
                    "type": "boolean"
                }
            }
        },
        "api.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "string"
                }
            }
        },
        "api.ModelsResponse": {
            "type": "object",
            "properties": {
                "models": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "version": {
                    "type": "string"
                }
            }
        },
        "api.SendMessageRequest": {
            "type": "object",
            "properties": {
                "content": {
                    "type": "string"
                }
            }
        },
        "api.SendMessageResponse": {
            "type": "object",
            "properties": {
                "stream_id": {
                    "type": "string"
                }
            }
        },
        "llm.Progress": {
            "type": "object",
            "properties": {
                "message": {
                    "type": "string"
                },
                "percent": {
                    "type": "number"
                },
                "phase": {
                    "type": "string",
                    "enum": [
                        "manifest",
                        "downloading",
                        "verifying",
                        "writing",
                        "success",
                        "unknown"
                    ]
                }
            }
        },
        "llm.PullModelRequest": {
            "type": "object",
            "properties": {
                "name": {
                    "type": "string"
                },
                "stream": {
                    "type": "boolean"
                }
            },
            "required": [
                "name"
            ]
        },
        "model.Conversation": {
            "type": "object",
            "properties": {
                "id": {
                    "type": "string"
                },
                "last_message_preview": {
                    "type": "string"
                },
                "last_modified": {
                    "type": "string"
                },
                "messages": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/model.Message"
                    }
                },
                "title": {
                    "type": "string"
                }
            }
        },
        "model.Draft": {
            "type": "object",
            "properties": {
                "stream_id": {
                    "type": "string"
                },
                "text": {
                    "type": "string"
                }
            }
        },
        "model.Message": {
            "type": "object",
            "properties": {
                "content": {
                    "type": "string"
                },
                "created_at": {
                    "type": "string"
                },
                "id": {
                    "type": "string"
                },
                "role": {
                    "type": "string",
                    "enum": [
                        "user",
                        "assistant"
                    ]
                }
            }
        },
        "model.ServerStatus": {
            "type": "object",
            "properties": {
                "checked_at": {
                    "type": "string"
                },
                "models": {
                    "type": "array",
                    "items": {
                        "type": "string"
                    }
                },
                "reachable": {
                    "type": "boolean"
                },
                "status_text": {
                    "type": "string"
                },
                "version": {
                    "type": "string"
                }
            }
        },
        "service.ChatEvent": {
            "type": "object",
            "properties": {
                "conversation_id": {
                    "type": "string"
                },
                "draft": {
                    "type": "string"
                },
                "fragment": {
                    "type": "string"
                },
                "kind": {
                    "type": "string",
                    "enum": [
                        "state_changed",
                        "message_appended",
                        "draft_updated",
                        "conversation_replaced"
                    ]
                },
                "message": {
                    "$ref": "#/definitions/model.Message"
                },
                "state": {
                    "type": "string",
                    "enum": [
                        "idle",
                        "awaiting_first_fragment",
                        "streaming",
                        "finalizing"
                    ]
                },
                "stream_id": {
                    "type": "string"
                }
            }
        },
        "service.ChatSnapshot": {
            "type": "object",
            "properties": {
                "conversation": {
                    "$ref": "#/definitions/model.Conversation"
                },
                "draft": {
                    "$ref": "#/definitions/model.Draft"
                },
                "state": {
                    "type": "string",
                    "enum": [
                        "idle",
                        "awaiting_first_fragment",
                        "streaming",
                        "finalizing"
                    ]
                }
            }
        },
        "service.Settings": {
            "type": "object",
            "properties": {
                "extra_options": {
                    "type": "object",
                    "additionalProperties": true
                },
                "history_turns": {
                    "type": "integer",
                    "maximum": 50,
                    "minimum": 0
                },
                "model": {
                    "type": "string"
                },
                "num_predict": {
                    "type": "integer",
                    "minimum": -2
                },
                "save_history": {
                    "type": "boolean"
                },
                "streaming": {
                    "type": "boolean"
                },
                "system_prompt": {
                    "type": "string"
                },
                "temperature": {
                    "type": "number",
                    "maximum": 2,
                    "minimum": 0
                }
            },
            "required": [
                "model"
            ]
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "ollama-chat API",
	Description:      "Local bridge to the ollama-chat session engine.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
