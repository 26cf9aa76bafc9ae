// Package docs registers the OpenAPI document served under /swagger/.
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
        "/v1/evidence": {
            "get": {
                "produces": ["application/json"],
                "summary": "List evidence newest first",
                "parameters": [
                    {"type": "string", "name": "uploader_id", "in": "query"},
                    {"type": "string", "description": "PENDING, VERIFIED, REJECTED, FLAGGED or all", "name": "status", "in": "query"},
                    {"type": "integer", "description": "1-50, default 50", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ListEvidenceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Register evidence",
                "parameters": [
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterEvidenceRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/EvidenceResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/evidence/{evidence_id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Evidence detail with vote counts",
                "parameters": [{"type": "string", "name": "evidence_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/EvidenceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/evidence/{evidence_id}/status": {
            "get": {
                "produces": ["application/json"],
                "summary": "Current evidence status",
                "parameters": [{"type": "string", "name": "evidence_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/EvidenceStatusResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/v1/evidence/{evidence_id}/verifications": {
            "get": {
                "produces": ["application/json"],
                "summary": "Current vote set and tally",
                "parameters": [{"type": "string", "name": "evidence_id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ListVerificationsResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Submit or revise a verification vote",
                "parameters": [
                    {"type": "string", "name": "evidence_id", "in": "path", "required": true},
                    {"type": "string", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitVerificationRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/SubmitVerificationResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {"code": {"type": "string"}, "message": {"type": "string"}}
        },
        "Tally": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "approved": {"type": "integer"},
                "rejected": {"type": "integer"},
                "flagged": {"type": "integer"}
            }
        },
        "RegisterEvidenceRequest": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "description": {"type": "string"},
                "content_hash": {"type": "string"},
                "mime_type": {"type": "string"},
                "media_type": {"type": "string"}
            }
        },
        "EvidenceResponse": {
            "type": "object",
            "properties": {
                "evidence_id": {"type": "string"},
                "content_hash": {"type": "string"},
                "status": {"type": "string"},
                "title": {"type": "string"},
                "description": {"type": "string"},
                "media_type": {"type": "string"},
                "uploader_id": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"},
                "votes": {"$ref": "#/definitions/Tally"}
            }
        },
        "ListEvidenceResponse": {
            "type": "object",
            "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/EvidenceResponse"}}}
        },
        "EvidenceStatusResponse": {
            "type": "object",
            "properties": {"evidence_id": {"type": "string"}, "status": {"type": "string"}}
        },
        "SubmitVerificationRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "decision": {"type": "string"},
                "confidence": {"type": "integer"},
                "comment": {"type": "string"}
            }
        },
        "Verification": {
            "type": "object",
            "properties": {
                "vote_id": {"type": "string"},
                "evidence_id": {"type": "string"},
                "verifier_id": {"type": "string"},
                "type": {"type": "string"},
                "decision": {"type": "string"},
                "confidence": {"type": "integer"},
                "comment": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "SubmitVerificationResponse": {
            "type": "object",
            "properties": {
                "verification": {"$ref": "#/definitions/Verification"},
                "previous_status": {"type": "string"},
                "status": {"type": "string"},
                "status_changed": {"type": "boolean"},
                "reason": {"type": "string"},
                "votes": {"$ref": "#/definitions/Tally"},
                "was_update": {"type": "boolean"},
                "replayed": {"type": "boolean"}
            }
        },
        "ListVerificationsResponse": {
            "type": "object",
            "properties": {
                "evidence_id": {"type": "string"},
                "status": {"type": "string"},
                "votes": {"$ref": "#/definitions/Tally"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/Verification"}}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "CrowdProof Verification API",
	Description:      "Evidence registration and community verification.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
