package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Autoenrol API",
        "description": "Rule driven course enrolment reconciliation for the host LMS.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "ServiceToken": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Hooks",
            "description": "Host platform events"
        },
        {
            "name": "Instances",
            "description": "Enrol page actions and instance administration"
        },
        {
            "name": "Batch",
            "description": "Queued bulk sync and sweep runs"
        }
    ],
    "paths": {
        "/hooks/login": {
            "post": {
                "tags": [
                    "Hooks"
                ],
                "summary": "Reconcile a user against every enabled instance after login",
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UserActionRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/instances/{id}/access": {
            "post": {
                "tags": [
                    "Instances"
                ],
                "summary": "Try to auto-enrol a user entering a course",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UserActionRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/instances/{id}/confirm": {
            "post": {
                "tags": [
                    "Instances"
                ],
                "summary": "Enrol a user who confirmed on the enrol page",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UserActionRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/instances/{id}/unenrolself": {
            "post": {
                "tags": [
                    "Instances"
                ],
                "summary": "Let a user leave an auto enrolment",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UserActionRequest"
                        }
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "403": {
                        "description": "Self unenrol not allowed",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/instances/{id}": {
            "delete": {
                "tags": [
                    "Instances"
                ],
                "summary": "Delete an instance with its enrolments, roles and owned groups",
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/courses/{courseId}/instances": {
            "post": {
                "tags": [
                    "Instances"
                ],
                "summary": "Add an instance with the plugin defaults to a course",
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "path",
                        "required": true,
                        "type": "string"
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/sync": {
            "post": {
                "tags": [
                    "Batch"
                ],
                "summary": "Queue a bulk sync",
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "query",
                        "type": "string"
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        },
        "/sweep": {
            "post": {
                "tags": [
                    "Batch"
                ],
                "summary": "Queue an expiration sweep",
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "query",
                        "type": "string"
                    }
                ],
                "responses": {
                    "202": {
                        "description": "Queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    },
                    "409": {
                        "description": "Already queued",
                        "schema": {
                            "$ref": "#/definitions/ResponseEnvelope"
                        }
                    }
                },
                "security": [
                    {
                        "ServiceToken": []
                    }
                ]
            }
        }
    },
    "definitions": {
        "UserActionRequest": {
            "type": "object",
            "required": [
                "user_id"
            ],
            "properties": {
                "user_id": {
                    "type": "string"
                }
            }
        },
        "SyncResult": {
            "type": "object",
            "properties": {
                "instance_id": {
                    "type": "string"
                },
                "course_id": {
                    "type": "string"
                },
                "user_id": {
                    "type": "string"
                },
                "effect": {
                    "type": "string",
                    "enum": [
                        "none",
                        "enrolled",
                        "unenrolled",
                        "suspended"
                    ]
                },
                "reason": {
                    "type": "string"
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                },
                "status": {
                    "type": "integer"
                }
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "meta": {
                    "type": "object"
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
