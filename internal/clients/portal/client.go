package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

// maxDocumentSize caps a single document download (100 MB)
const maxDocumentSize = 100 * 1024 * 1024

// Client talks to the upstream court portal. Requests carry a bearer token
// and are paced by a rate limiter so bulk downloads stay within the portal's
// quota.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// NewClient creates a portal client from configuration
func NewClient(cfg *common.PortalConfig, logger arbor.ILogger) *Client {
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: common.Duration(cfg.RequestTimeout, 60*time.Second),
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		logger:    logger,
	}
}

// processResponse mirrors the portal's process payload. Documents live inside
// the current procedural step (tramitacaoAtual) and any historical steps.
type processResponse struct {
	NumeroProcesso  string       `json:"numeroProcesso"`
	Tribunal        string       `json:"tribunal"`
	TramitacaoAtual tramitacao   `json:"tramitacaoAtual"`
	Tramitacoes     []tramitacao `json:"tramitacoes"`
}

type tramitacao struct {
	Assunto    []assunto     `json:"assunto"`
	Documentos []documentRef `json:"documentos"`
}

type assunto struct {
	Descricao string `json:"descricao"`
}

type documentRef struct {
	IDDocumento string `json:"idDocumento"`
	Nome        string `json:"nome"`
	Tipo        struct {
		Nome string `json:"nome"`
	} `json:"tipo"`
	Arquivo struct {
		Tipo    string `json:"tipo"`
		Tamanho int64  `json:"tamanho"`
	} `json:"arquivo"`
	HrefBinario string `json:"hrefBinario"`
}

// GetProcess fetches the full process record, flattening the portal's
// per-step document listings into one ordered slice.
func (c *Client) GetProcess(ctx context.Context, processNumber string) (*interfaces.PortalProcess, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &interfaces.PortalError{Op: "get process", Err: err}
	}

	endpoint := fmt.Sprintf("%s/processos/%s", c.baseURL, processNumber)
	body, _, status, err := c.get(ctx, endpoint, "application/json")
	if err != nil {
		return nil, &interfaces.PortalError{Op: "get process", StatusCode: status, Err: err}
	}

	// The portal answers with either an object or a single-element list
	raw := body
	if len(body) > 0 && body[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil || len(items) == 0 {
			return nil, &interfaces.PortalError{Op: "get process", Err: fmt.Errorf("empty or malformed process list")}
		}
		raw = items[0]
	}

	var resp processResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &interfaces.PortalError{Op: "get process", Err: fmt.Errorf("malformed process payload: %w", err)}
	}

	process := &interfaces.PortalProcess{
		ProcessNumber: resp.NumeroProcesso,
		Court:         resp.Tribunal,
		Summary:       json.RawMessage(raw),
	}
	if process.ProcessNumber == "" {
		process.ProcessNumber = processNumber
	}

	steps := append([]tramitacao{resp.TramitacaoAtual}, resp.Tramitacoes...)
	seen := make(map[string]bool)
	for _, step := range steps {
		if process.Subject == "" && len(step.Assunto) > 0 {
			process.Subject = step.Assunto[0].Descricao
		}
		for _, doc := range step.Documentos {
			if doc.HrefBinario == "" || seen[doc.HrefBinario] {
				continue
			}
			seen[doc.HrefBinario] = true
			name := doc.Nome
			if name == "" {
				name = doc.Tipo.Nome
			}
			process.Documents = append(process.Documents, interfaces.PortalDocumentRef{
				DocumentID:   doc.IDDocumento,
				Name:         name,
				MimeType:     doc.Arquivo.Tipo,
				Size:         doc.Arquivo.Tamanho,
				SourceHandle: doc.HrefBinario,
			})
		}
	}

	c.logger.Debug().
		Str("process_number", processNumber).
		Int("documents", len(process.Documents)).
		Msg("Process metadata fetched")

	return process, nil
}

// FetchDocument downloads one document binary. The source handle is the
// hrefBinario from the process listing, either absolute or portal-relative.
func (c *Client) FetchDocument(ctx context.Context, sourceHandle string) (*interfaces.PortalFile, error) {
	if sourceHandle == "" {
		return nil, &interfaces.PortalError{Op: "fetch document", Err: fmt.Errorf("empty source handle")}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &interfaces.PortalError{Op: "fetch document", Err: err}
	}

	endpoint := sourceHandle
	if strings.HasPrefix(sourceHandle, "/") {
		endpoint = c.baseURL + sourceHandle
	}

	body, contentType, status, err := c.get(ctx, endpoint, "*/*")
	if err != nil {
		return nil, &interfaces.PortalError{Op: "fetch document", StatusCode: status, Err: err}
	}

	if len(body) == 0 {
		return nil, &interfaces.PortalError{Op: "fetch document", Err: fmt.Errorf("empty document body")}
	}

	return &interfaces.PortalFile{
		Content:  body,
		MimeType: contentType,
	}, nil
}

// get performs one authenticated GET and returns the body, content type and
// status code
func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", 0, err
	}

	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for a sharper error message
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, "", resp.StatusCode, fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}
