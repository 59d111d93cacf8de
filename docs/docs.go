// Package docs holds the OpenAPI description of the books api served under /swagger.
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
        "/books": {
            "get": {
                "produces": ["application/json"],
                "tags": ["books"],
                "summary": "List all books",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/main.Book"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["books"],
                "summary": "Create a book",
                "parameters": [
                    {"description": "book to create", "name": "book", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.Book"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/main.Book"}, "headers": {"Location": {"type": "string", "description": "/books/{id}"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            }
        },
        "/books/authors": {
            "get": {
                "produces": ["application/json"],
                "tags": ["books"],
                "summary": "List distinct authors",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"type": "string"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            }
        },
        "/books/search": {
            "get": {
                "description": "Case-sensitive substring match on title or author. An empty term returns all books.",
                "produces": ["application/json"],
                "tags": ["books"],
                "summary": "Search books by title or author",
                "parameters": [
                    {"type": "string", "description": "substring to look for", "name": "searchTerm", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/main.Book"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            }
        },
        "/books/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["books"],
                "summary": "Get a book",
                "parameters": [
                    {"type": "integer", "description": "book id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/main.Book"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            },
            "put": {
                "consumes": ["application/json"],
                "tags": ["books"],
                "summary": "Replace a book",
                "parameters": [
                    {"type": "integer", "description": "book id", "name": "id", "in": "path", "required": true},
                    {"description": "new book content, its id must match the path id", "name": "book", "in": "body", "required": true, "schema": {"$ref": "#/definitions/main.Book"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            },
            "delete": {
                "tags": ["books"],
                "summary": "Delete a book",
                "parameters": [
                    {"type": "integer", "description": "book id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/main.APIError"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/main.APIError"}}
                }
            }
        }
    },
    "definitions": {
        "main.APIError": {
            "type": "object",
            "properties": {
                "data": {},
                "message": {"type": "string"},
                "requestid": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "main.Book": {
            "type": "object",
            "required": ["author", "title"],
            "properties": {
                "author": {"type": "string"},
                "category": {"type": "string"},
                "id": {"type": "integer"},
                "imageUrl": {"type": "string"},
                "language": {"type": "string"},
                "noOfPages": {"type": "integer", "minimum": 0},
                "price": {"type": "number", "minimum": 0},
                "title": {"type": "string"}
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
	Title:            "Books Store API",
	Description:      "CRUD and search operations on a books catalog.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
