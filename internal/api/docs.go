package api

// openAPISpec is the hand-maintained OpenAPI document served at
// /docs/doc.json for the swagger UI. The ops surface is small enough that
// generated docs are not worth the build step.
const openAPISpec = `{
  "swagger": "2.0",
  "info": {
    "title": "Streakd Notification Service",
    "description": "Streak-expiration notification scheduler and instant push dispatch for the Emberlog habit app.",
    "version": "1.0.0"
  },
  "basePath": "/",
  "paths": {
    "/": {
      "get": {
        "tags": ["meta"],
        "summary": "Service info",
        "responses": {"200": {"description": "OK"}}
      }
    },
    "/health": {
      "get": {
        "tags": ["health"],
        "summary": "Health check",
        "responses": {"200": {"description": "OK"}}
      }
    },
    "/health/db": {
      "get": {
        "tags": ["health"],
        "summary": "Database health check",
        "responses": {"200": {"description": "OK"}, "503": {"description": "Database unreachable"}}
      }
    },
    "/api/v1/runs": {
      "post": {
        "tags": ["scheduler"],
        "summary": "Trigger a streak scheduler run",
        "responses": {"200": {"description": "Run summary"}, "502": {"description": "Run failed"}}
      }
    },
    "/api/v1/notifications/instant": {
      "post": {
        "tags": ["notifications"],
        "summary": "Send an instant notification",
        "parameters": [{
          "in": "body",
          "name": "body",
          "required": true,
          "schema": {
            "type": "object",
            "properties": {
              "user_id": {"type": "string"},
              "type": {"type": "string", "enum": ["friend_request", "friend_accepted"]},
              "data": {"type": "object"}
            }
          }
        }],
        "responses": {"200": {"description": "Send result"}, "400": {"description": "Invalid request"}}
      }
    }
  }
}`
