package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ParseYAML normalizes a YAML-authored manifest document into the
// canonical Manifest struct. Manifests are stored as JSON rows, but
// authors hand-write them as YAML; this re-encodes the decoded document
// through encoding/json and feeds it through the same decode/NormalizePolicy
// path a Postgres-stored body goes through, so a YAML file and a JSON body
// tolerate the same legacy field spellings and schema-version gate.
func ParseYAML(data []byte) (*Manifest, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parse yaml: %w", err)
	}

	tenant, _ := doc["tenant"].(string)
	manifestID, _ := doc["manifest_id"].(string)
	status, _ := doc["status"].(string)
	if status == "" {
		status = string(StatusActive)
	}
	schemaVersion, _ := doc["schema_version"].(string)

	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("manifest: re-encode yaml document: %w", err)
	}

	m, err := decode(tenant, manifestID, status, schemaVersion, body, time.Now())
	if err != nil {
		return nil, err
	}
	if err := CheckSchemaCompatibility(m.SchemaVersion); err != nil {
		return nil, err
	}
	return m, nil
}
