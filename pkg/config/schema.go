package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema describes the configuration file as a JSON schema. Property names
// are the keys Load decodes, and none is required since every key has a
// default.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		FieldNameTag:               "mapstructure",
		RequiredFromJSONSchemaTags: true,
	}

	s := r.Reflect(&Config{})
	s.Title = "dittonet configuration"
	s.Description = "Configuration file for the dittonet TCP server"
	return s
}

// SchemaJSON returns Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}
