package jsonrpc

// MessageSchema describes the JSON-RPC 2.0 shapes accepted from the wire.
// Exactly one of method, result or error must be present; responses must
// carry an id.
const MessageSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "JSON-RPC 2.0 message",
  "type": "object",
  "required": ["jsonrpc"],
  "properties": {
    "jsonrpc": {"enum": ["2.0"]},
    "id": {"type": ["string", "number", "null"]},
    "method": {"type": "string", "minLength": 1},
    "params": {"type": ["object", "array"]},
    "error": {
      "type": "object",
      "required": ["code", "message"],
      "properties": {
        "code": {"type": "integer"},
        "message": {"type": "string"}
      }
    }
  },
  "oneOf": [
    {"required": ["method"]},
    {"required": ["result", "id"]},
    {"required": ["error", "id"]}
  ]
}`
