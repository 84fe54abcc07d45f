package kubernetes

import (
	"encoding/json"
	"io"

	flowcontainer "n3n.dev/core/flow/container"
	flowerrors "n3n.dev/core/flow/errors"
)

type nodeDefinitionWire struct {
	Type         string          `json:"type"`
	DisplayName  string          `json:"displayName"`
	Description  string          `json:"description"`
	ConfigSchema json.RawMessage `json:"configSchema"`
}

func decodeNodeDefinitions(r io.Reader) ([]flowcontainer.NodeDefinition, error) {
	var wire []nodeDefinitionWire
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, flowerrors.Transient("node_definitions_decode_failed", "failed to decode node-definitions response", err)
	}
	out := make([]flowcontainer.NodeDefinition, len(wire))
	for i, w := range wire {
		out[i] = flowcontainer.NodeDefinition{
			Type: w.Type, DisplayName: w.DisplayName, Description: w.Description, ConfigSchema: w.ConfigSchema,
		}
	}
	return out, nil
}
