package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
)

const processFixture = `{
	"numeroProcesso": "1000001-11.2024.8.26.0100",
	"tribunal": "TJSP",
	"tramitacaoAtual": {
		"assunto": [{"descricao": "Dano Material"}],
		"documentos": [
			{
				"idDocumento": "doc-1",
				"nome": "Peticao Inicial",
				"tipo": {"nome": "Peticao"},
				"arquivo": {"tipo": "application/pdf", "tamanho": 2048},
				"hrefBinario": "/processos/1000001/documentos/doc-1/binario"
			},
			{
				"idDocumento": "doc-2",
				"nome": "",
				"tipo": {"nome": "Despacho"},
				"arquivo": {"tipo": "application/pdf", "tamanho": 512},
				"hrefBinario": "/processos/1000001/documentos/doc-2/binario"
			}
		]
	},
	"tramitacoes": [
		{
			"documentos": [
				{
					"idDocumento": "doc-1",
					"nome": "Peticao Inicial",
					"arquivo": {"tipo": "application/pdf", "tamanho": 2048},
					"hrefBinario": "/processos/1000001/documentos/doc-1/binario"
				}
			]
		}
	]
}`

func newTestClient(baseURL string) *Client {
	return NewClient(&common.PortalConfig{
		BaseURL:        baseURL,
		Token:          "test-token",
		RequestTimeout: "5s",
		RateLimit:      100,
		UserAgent:      "Acta/test",
	}, common.GetLogger())
}

func TestGetProcess(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/processos/1000001-11.2024.8.26.0100", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(processFixture))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	process, err := c.GetProcess(context.Background(), "1000001-11.2024.8.26.0100")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "1000001-11.2024.8.26.0100", process.ProcessNumber)
	assert.Equal(t, "TJSP", process.Court)
	assert.Equal(t, "Dano Material", process.Subject)
	assert.NotEmpty(t, process.Summary)

	// doc-1 appears twice upstream but must be listed once
	require.Len(t, process.Documents, 2)
	assert.Equal(t, "doc-1", process.Documents[0].DocumentID)
	assert.Equal(t, "Peticao Inicial", process.Documents[0].Name)
	assert.Equal(t, int64(2048), process.Documents[0].Size)
	assert.Equal(t, "Despacho", process.Documents[1].Name, "type name fills in a blank document name")
}

func TestGetProcessListResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[" + processFixture + "]"))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	process, err := c.GetProcess(context.Background(), "1000001-11.2024.8.26.0100")
	require.NoError(t, err)
	assert.Equal(t, "TJSP", process.Court)
	assert.Len(t, process.Documents, 2)
}

func TestGetProcessNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.GetProcess(context.Background(), "0000000-00.0000.0.00.0000")
	require.Error(t, err)

	var portalErr *interfaces.PortalError
	require.ErrorAs(t, err, &portalErr)
	assert.Equal(t, http.StatusNotFound, portalErr.StatusCode)
}

func TestFetchDocument(t *testing.T) {
	content := []byte("%PDF-1.7 test")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/processos/1000001/documentos/doc-1/binario", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		w.Write(content)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	file, err := c.FetchDocument(context.Background(), "/processos/1000001/documentos/doc-1/binario")
	require.NoError(t, err)
	assert.Equal(t, content, file.Content)
	assert.Equal(t, "application/pdf", file.MimeType)
}

func TestFetchDocumentEmptyHandle(t *testing.T) {
	c := newTestClient("http://portal.invalid")
	_, err := c.FetchDocument(context.Background(), "")
	require.Error(t, err)
}
