package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	request *jsonschema.Schema
	methods map[string]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		reqSchema, err := jsonschema.CompileString("ws_request", wsRequestSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.request = reqSchema

		methods := map[string]string{
			"ping":       wsPingParamsSchema,
			"chat.send":  wsChatSendParamsSchema,
			"chat.abort": wsChatAbortParamsSchema,
		}

		wsSchemas.methods = make(map[string]*jsonschema.Schema, len(methods))
		for name, schema := range methods {
			compiled, err := jsonschema.CompileString("ws_method_"+name, schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.methods[name] = compiled
		}
	})
	return wsSchemas.initErr
}

// supportedWSMethods lists the request methods the chat socket accepts.
func supportedWSMethods() []string {
	return []string{"ping", "chat.send", "chat.abort"}
}

func validateWSRequestFrame(raw []byte, frame *wsFrame) error {
	if err := initWSSchemas(); err != nil {
		return err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	if err := wsSchemas.request.Validate(payload); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("missing frame")
	}
	schema := wsSchemas.methods[frame.Method]
	if schema == nil {
		return fmt.Errorf("unknown method %q", frame.Method)
	}
	var params any
	if len(frame.Params) == 0 {
		params = map[string]any{}
	} else if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	return schema.Validate(params)
}

const wsRequestSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1, "maxLength": 128 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": false
}`

const wsPingParamsSchema = `{
  "type": "object",
  "additionalProperties": false
}`

const wsChatSendParamsSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": { "type": "string", "minLength": 1 },
    "conversationId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`

const wsChatAbortParamsSchema = `{
  "type": "object",
  "properties": {
    "requestId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": false
}`
