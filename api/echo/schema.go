package echo

import (
	"bytes"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const onboardSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["partnerUserId", "redirectURLs"],
  "properties": {
    "partnerUserId": { "type": "string" },
    "redirectURLs": {
      "type": "object",
      "required": ["success", "cancel"],
      "properties": {
        "success": { "type": "string" },
        "cancel": { "type": "string" }
      }
    },
    "clientData": { "type": "object" }
  }
}`

const statusSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["active"],
  "properties": {
    "active": { "type": "boolean" }
  }
}`

func compileSchema(name, doc string) (*jsonschema.Schema, error) {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, parsed); err != nil {
		return nil, err
	}
	return c.Compile(name)
}

// validateJSON checks raw against schema. It returns the parse or
// validation error, nil when raw is valid.
func validateJSON(schema *jsonschema.Schema, raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}
