package classify

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/emoshelf/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// labelSchema is the structured answer requested from generative backends
func labelSchema(categories []model.Category) *jsonschema.Schema {
	enum := make([]any, len(categories))
	for i, c := range categories {
		enum[i] = string(c)
	}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"label": {
				Type:        "string",
				Description: "Emotion category of the input",
				Enum:        enum,
			},
			"confidence": {
				Type:        "number",
				Description: "Certainty of the label from 0.0 to 1.0",
			},
		},
		Required: []string{"label", "confidence"},
	}
}

// toGenaiSchema converts a JSON Schema into the schema type accepted by Gemini
func toGenaiSchema(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{
		Description: schema.Description,
		Required:    schema.Required,
	}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	case "":
	default:
		return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
	}

	for _, v := range schema.Enum {
		s, ok := v.(string)
		if !ok {
			return nil, goerr.New("enum value must be a string", goerr.V("value", v))
		}
		out.Enum = append(out.Enum, s)
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := toGenaiSchema(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if schema.Items != nil {
		converted, err := toGenaiSchema(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}
