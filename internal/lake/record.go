package lake

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"

	keyEndpoint      = "endpoint"
	keyBusinessDate  = "data_negocio"
	keyStoreID       = "id_loja"
	keyIngestedAt    = "timestamp_ingestao"
	keySchemaVersion = "versao_esquema"
	keyContentHash   = "hash_dados"
	keySizeBytes     = "tamanho_bytes"
	keyFilePath      = "caminho_arquivo"
	keyFileName      = "nome_arquivo"
)

// Envelope is the metadata block written alongside every payload. On the wire
// it is a single flat JSON object: the fixed fields below plus any extra
// caller metadata merged in at the same level. Extra keys win on conflict.
type Envelope struct {
	Endpoint      string
	BusinessDate  time.Time
	StoreID       string
	IngestedAt    time.Time
	SchemaVersion string
	ContentHash   string
	SizeBytes     int64
	Extra         map[string]any
}

func (e Envelope) wireMap() map[string]any {
	m := map[string]any{
		keyEndpoint:      e.Endpoint,
		keyBusinessDate:  e.BusinessDate.Format(dateLayout),
		keyStoreID:       e.StoreID,
		keyIngestedAt:    e.IngestedAt.Format(time.RFC3339),
		keySchemaVersion: e.SchemaVersion,
		keyContentHash:   e.ContentHash,
		keySizeBytes:     e.SizeBytes,
	}
	for k, v := range e.Extra {
		m[k] = v
	}
	return m
}

func (e *Envelope) fromWireMap(m map[string]any) error {
	pop := func(key string) (any, bool) {
		v, ok := m[key]
		if ok {
			delete(m, key)
		}
		return v, ok
	}
	if v, ok := pop(keyEndpoint); ok {
		e.Endpoint, _ = v.(string)
	}
	if v, ok := pop(keyBusinessDate); ok {
		if s, ok := v.(string); ok && s != "" {
			t, err := time.Parse(dateLayout, s)
			if err != nil {
				return fmt.Errorf("parse %s %q: %w", keyBusinessDate, s, err)
			}
			e.BusinessDate = t
		}
	}
	if v, ok := pop(keyStoreID); ok {
		e.StoreID, _ = v.(string)
	}
	if v, ok := pop(keyIngestedAt); ok {
		if s, ok := v.(string); ok && s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("parse %s %q: %w", keyIngestedAt, s, err)
			}
			e.IngestedAt = t
		}
	}
	if v, ok := pop(keySchemaVersion); ok {
		e.SchemaVersion, _ = v.(string)
	}
	if v, ok := pop(keyContentHash); ok {
		e.ContentHash, _ = v.(string)
	}
	if v, ok := pop(keySizeBytes); ok {
		switch n := v.(type) {
		case float64:
			e.SizeBytes = int64(n)
		case json.Number:
			i, err := n.Int64()
			if err != nil {
				return fmt.Errorf("parse %s %q: %w", keySizeBytes, n, err)
			}
			e.SizeBytes = i
		}
	}
	if len(m) > 0 {
		e.Extra = m
	} else {
		e.Extra = nil
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wireMap())
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	return e.fromWireMap(m)
}

// Record is one stored document: the envelope under "metadados" and the
// payload under "dados". SourcePath is filled by queries and never written.
type Record struct {
	Envelope   Envelope `json:"metadados"`
	Payload    Document `json:"dados"`
	SourcePath string   `json:"-"`
}

// Sidecar is the companion metadata file written to the metadata zone. Same
// flat object as the envelope plus the location of the record it describes.
type Sidecar struct {
	Envelope Envelope
	FilePath string
	FileName string
}

func (s Sidecar) MarshalJSON() ([]byte, error) {
	m := s.Envelope.wireMap()
	m[keyFilePath] = s.FilePath
	m[keyFileName] = s.FileName
	return json.Marshal(m)
}

func (s *Sidecar) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if v, ok := m[keyFilePath]; ok {
		s.FilePath, _ = v.(string)
		delete(m, keyFilePath)
	}
	if v, ok := m[keyFileName]; ok {
		s.FileName, _ = v.(string)
		delete(m, keyFileName)
	}
	return s.Envelope.fromWireMap(m)
}
