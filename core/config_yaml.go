package core

import "gopkg.in/yaml.v3"

// decodeYAMLInto merges a YAML document onto an already-populated
// CoreConfig. Fields absent from the document are left untouched, so YAML
// acts purely as an override layer on top of env/default-derived values.
func decodeYAMLInto(data []byte, cfg *CoreConfig) error {
	return yaml.Unmarshal(data, cfg)
}
