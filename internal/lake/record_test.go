package lake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeWireShape(t *testing.T) {
	env := Envelope{
		Endpoint:      "getGuestChecks",
		BusinessDate:  time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
		StoreID:       "store_001",
		IngestedAt:    time.Date(2025, 8, 11, 14, 30, 0, 0, time.UTC),
		SchemaVersion: "1.0",
		ContentHash:   "abc123",
		SizeBytes:     42,
		Extra:         map[string]any{"origem_api": "pos"},
	}

	b, err := json.Marshal(env)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Equal(t, "getGuestChecks", m["endpoint"])
	assert.Equal(t, "2025-08-10", m["data_negocio"])
	assert.Equal(t, "store_001", m["id_loja"])
	assert.Equal(t, "2025-08-11T14:30:00Z", m["timestamp_ingestao"])
	assert.Equal(t, "1.0", m["versao_esquema"])
	assert.Equal(t, "abc123", m["hash_dados"])
	assert.Equal(t, float64(42), m["tamanho_bytes"])

	// extra metadata sits flat at the top level, not nested
	assert.Equal(t, "pos", m["origem_api"])
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{
		Endpoint:      "getTransactions",
		BusinessDate:  time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		StoreID:       "novo-polo",
		IngestedAt:    time.Date(2025, 1, 1, 3, 4, 5, 0, time.UTC),
		SchemaVersion: "1.0",
		ContentHash:   "deadbeef",
		SizeBytes:     1234,
		Extra:         map[string]any{"lote": "b-77", "tentativa": float64(2)},
	}

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Envelope
	require.NoError(t, json.Unmarshal(b, &out))

	assert.Equal(t, in.Endpoint, out.Endpoint)
	assert.True(t, in.BusinessDate.Equal(out.BusinessDate))
	assert.Equal(t, in.StoreID, out.StoreID)
	assert.True(t, in.IngestedAt.Equal(out.IngestedAt))
	assert.Equal(t, in.SchemaVersion, out.SchemaVersion)
	assert.Equal(t, in.ContentHash, out.ContentHash)
	assert.Equal(t, in.SizeBytes, out.SizeBytes)
	assert.Equal(t, in.Extra, out.Extra)
}

func TestEnvelopeExtraWinsOnConflict(t *testing.T) {
	env := Envelope{
		Endpoint:      "getChargeBack",
		BusinessDate:  time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC),
		IngestedAt:    time.Date(2025, 2, 3, 1, 0, 0, 0, time.UTC),
		SchemaVersion: "1.0",
		Extra:         map[string]any{"versao_esquema": "2.0-beta"},
	}

	b, err := json.Marshal(env)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "2.0-beta", m["versao_esquema"])
}

func TestEnvelopeRejectsBadDates(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"data_negocio":"31/12/2024"}`), &env)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"timestamp_ingestao":"yesterday"}`), &env)
	assert.Error(t, err)
}

func TestSidecarRoundTrip(t *testing.T) {
	in := Sidecar{
		Envelope: Envelope{
			Endpoint:      "getGuestChecks",
			BusinessDate:  time.Date(2025, 8, 10, 0, 0, 0, 0, time.UTC),
			StoreID:       "store_001",
			IngestedAt:    time.Date(2025, 8, 10, 9, 0, 0, 0, time.UTC),
			SchemaVersion: "1.0",
			ContentHash:   "cafe",
			SizeBytes:     10,
		},
		FilePath: "/lake/raw/getGuestChecks/year=2025/month=08/day=10/store=store_001/x.json",
		FileName: "x.json",
	}

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, in.FilePath, m["caminho_arquivo"])
	assert.Equal(t, in.FileName, m["nome_arquivo"])
	assert.Equal(t, "getGuestChecks", m["endpoint"])

	var out Sidecar
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.FilePath, out.FilePath)
	assert.Equal(t, in.FileName, out.FileName)
	assert.Equal(t, in.Envelope.StoreID, out.Envelope.StoreID)
	assert.Nil(t, out.Envelope.Extra)
}

func TestHashDocumentDeterministic(t *testing.T) {
	a := Document{"b": float64(2), "a": float64(1), "nested": map[string]any{"y": "2", "x": "1"}}
	b := Document{"nested": map[string]any{"x": "1", "y": "2"}, "a": float64(1), "b": float64(2)}

	ha, sa, err := hashDocument(a)
	require.NoError(t, err)
	hb, sb, err := hashDocument(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Equal(t, sa, sb)
	assert.Len(t, ha, 64)

	c := Document{"a": float64(1), "b": float64(3), "nested": map[string]any{"x": "1", "y": "2"}}
	hc, _, err := hashDocument(c)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestHashDocumentUnserializable(t *testing.T) {
	_, _, err := hashDocument(Document{"ch": make(chan int)})
	require.Error(t, err)

	var serr *SerializationError
	assert.ErrorAs(t, err, &serr)
}
