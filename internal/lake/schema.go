package lake

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// RegisterSchema stores a schema document under the schemas zone as
// <endpoint>/<version>.json and returns its path. version becomes the file
// stem and is validated like any other identifier.
func (m *Manager) RegisterSchema(endpoint, version string, schema Document) (string, error) {
	if err := ValidateEndpoint(endpoint); err != nil {
		return "", err
	}
	if err := validateIdentifier("schema version", version); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", &SerializationError{Err: err}
	}
	dir := filepath.Join(m.zoneDirs[ZoneSchemas], endpoint)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &StorageError{Op: "register schema", Path: dir, Err: err}
	}
	path := filepath.Join(dir, version+".json")
	if err := m.writeFileAtomic("register schema", path, data); err != nil {
		return "", err
	}
	m.log.Info().Str("endpoint", endpoint).Str("version", version).Msg("schema registered")
	return path, nil
}

// SchemaVersions lists, per configured endpoint, the schema versions present
// in the schemas zone. Endpoints without a schema directory are omitted.
func (m *Manager) SchemaVersions() (map[string][]string, error) {
	out := make(map[string][]string)
	for _, ep := range m.cfg.Endpoints {
		dir := filepath.Join(m.zoneDirs[ZoneSchemas], ep)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &StorageError{Op: "list schemas", Path: dir, Err: err}
		}
		var versions []string
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				versions = append(versions, strings.TrimSuffix(e.Name(), ".json"))
			}
		}
		if len(versions) > 0 {
			out[ep] = versions
		}
	}
	return out, nil
}
