package pipeline

import (
	"github.com/cloudwego/eino/schema"

	"github.com/coachloop/coachloop/internal/toolrun"
)

// toolInfos exposes the client-owned catalogue to the model so it can emit
// tool calls. Server-owned tools are deliberately absent: the model never
// drives those, the execute endpoint does.
func toolInfos(c *toolrun.Catalog) []*schema.ToolInfo {
	var infos []*schema.ToolInfo
	for _, t := range c.ClientOwned() {
		infos = append(infos, &schema.ToolInfo{
			Name:        t.ID,
			Desc:        t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(schemaParams(t.Schema)),
		})
	}
	return infos
}

func schemaParams(s toolrun.Schema) map[string]*schema.ParameterInfo {
	required := make(map[string]bool, len(s.Required))
	for _, r := range s.Required {
		required[r] = true
	}

	out := make(map[string]*schema.ParameterInfo, len(s.Properties))
	for name, prop := range s.Properties {
		info := &schema.ParameterInfo{
			Type:     schemaDataType(prop.Type),
			Required: required[name],
		}
		if prop.Format == "date-time" {
			info.Desc = "RFC 3339 timestamp"
		}
		if len(prop.Enum) > 0 {
			info.Enum = prop.Enum
		}
		out[name] = info
	}
	return out
}

func schemaDataType(t string) schema.DataType {
	switch t {
	case "string":
		return schema.String
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}
