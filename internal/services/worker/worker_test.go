package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/acta/internal/common"
	"github.com/ternarybob/acta/internal/interfaces"
	"github.com/ternarybob/acta/internal/models"
	"github.com/ternarybob/acta/internal/services/status"
)

const testProcessNumber = "1000001-11.2024.8.26.0100"

// memStore is a minimal in-memory StorageManager for worker tests
type memStore struct {
	mu        sync.Mutex
	documents map[string]*models.Document
	jobs      map[string]*models.Job

	failJobUpdates bool
}

func newMemStore() *memStore {
	return &memStore{
		documents: make(map[string]*models.Document),
		jobs:      make(map[string]*models.Job),
	}
}

func (m *memStore) ProcessStorage() interfaces.ProcessStorage   { return nil }
func (m *memStore) DocumentStorage() interfaces.DocumentStorage { return m }
func (m *memStore) JobStorage() interfaces.JobStorage           { return m }
func (m *memStore) Close() error                                { return nil }

func (m *memStore) SaveDocument(_ context.Context, d *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.documents[d.ID] = &cp
	return nil
}

func (m *memStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) SeedDocuments(ctx context.Context, docs []*models.Document) error {
	for _, d := range docs {
		if err := m.SaveDocument(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) ListDocumentsByProcess(_ context.Context, processNumber string) ([]*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Document
	for _, d := range m.documents {
		if d.ProcessNumber == processNumber {
			cp := *d
			out = append(out, &cp)
		}
	}
	// Stable order, like the real storage layer
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertActive(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) UpdateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failJobUpdates {
		return errors.New("storage write failed")
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memStore) GetJob(_ context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) GetActiveJobByProcess(context.Context, string) (*models.Job, error) {
	return nil, interfaces.ErrNotFound
}

func (m *memStore) GetLatestJobByProcess(context.Context, string) (*models.Job, error) {
	return nil, interfaces.ErrNotFound
}

func (m *memStore) ListStaleProcessing(context.Context, time.Time) ([]*models.Job, error) {
	return nil, nil
}

// fakePortal serves canned bytes per source handle and counts fetches
type fakePortal struct {
	mu      sync.Mutex
	files   map[string][]byte
	failing map[string]error
	fetches map[string]int
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		files:   make(map[string][]byte),
		failing: make(map[string]error),
		fetches: make(map[string]int),
	}
}

func (p *fakePortal) GetProcess(context.Context, string) (*interfaces.PortalProcess, error) {
	return nil, errors.New("not used in worker tests")
}

func (p *fakePortal) FetchDocument(_ context.Context, handle string) (*interfaces.PortalFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetches[handle]++
	if err, ok := p.failing[handle]; ok {
		return nil, err
	}
	content, ok := p.files[handle]
	if !ok {
		return nil, &interfaces.PortalError{Op: "fetch document", StatusCode: 404, Err: errors.New("no such document")}
	}
	return &interfaces.PortalFile{Content: content, MimeType: "application/pdf"}, nil
}

func (p *fakePortal) fetchCount(handle string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetches[handle]
}

// fakeBlobStore records uploads in memory
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (b *fakeBlobStore) Upload(_ context.Context, key, _ string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = body
	return nil
}

func (b *fakeBlobStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?signed", nil
}

// fakeDispatcher records delivered payloads
type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []*models.WebhookPayload
	result   *models.DeliveryResult
}

func (d *fakeDispatcher) Deliver(_ context.Context, _ string, payload *models.WebhookPayload) *models.DeliveryResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.payloads = append(d.payloads, payload)
	if d.result != nil {
		return d.result
	}
	now := time.Now().UTC()
	return &models.DeliveryResult{Success: true, Attempts: 1, LastStatusCode: 200, SentAt: &now}
}

func (d *fakeDispatcher) TestConnectivity(context.Context, string) *interfaces.ConnectivityResult {
	return &interfaces.ConnectivityResult{Reachable: true}
}

func (d *fakeDispatcher) delivered() []*models.WebhookPayload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.payloads
}

type fixture struct {
	store      *memStore
	portal     *fakePortal
	blobs      *fakeBlobStore
	dispatcher *fakeDispatcher
	svc        *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      newMemStore(),
		portal:     newFakePortal(),
		blobs:      newFakeBlobStore(),
		dispatcher: &fakeDispatcher{},
	}
	f.svc = NewService(
		f.store, f.portal, f.blobs, f.dispatcher,
		status.NewManager(false),
		&common.WorkerConfig{BatchSize: 2, MaxRetries: 3, RetryBackoff: "1ms"},
		time.Hour,
		common.GetLogger(),
	)
	return f
}

// seedJob stores a pending job plus n pending documents with portal content
func (f *fixture) seedJob(t *testing.T, webhookURL string, n int) *models.Job {
	t.Helper()
	ctx := context.Background()

	job := &models.Job{
		ID:            "job_test",
		ProcessNumber: testProcessNumber,
		WebhookURL:    webhookURL,
		Status:        models.JobStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertActive(ctx, job))

	for i := 1; i <= n; i++ {
		handle := fmt.Sprintf("/bin/%d", i)
		f.portal.files[handle] = []byte(fmt.Sprintf("content-%d", i))
		require.NoError(t, f.store.SaveDocument(ctx, &models.Document{
			ID:            fmt.Sprintf("doc_%d", i),
			ProcessNumber: testProcessNumber,
			DocumentID:    fmt.Sprintf("ext-%d", i),
			Name:          fmt.Sprintf("file-%d.pdf", i),
			SourceHandle:  handle,
			Status:        models.DocumentStatusPending,
		}))
	}
	return job
}

func TestHandleTicketCompletesJob(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "https://consumer.test/cb", 3)
	ctx := context.Background()

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err)

	final, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 3, final.TotalDocuments)
	assert.Equal(t, 3, final.CompletedDocuments)
	assert.Equal(t, 0, final.FailedDocuments)
	assert.Equal(t, float64(100), final.ProgressPercentage)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.CompletedAt)
	assert.True(t, final.WebhookSent)

	docs, _ := f.store.ListDocumentsByProcess(ctx, testProcessNumber)
	for _, doc := range docs {
		assert.Equal(t, models.DocumentStatusAvailable, doc.Status)
		assert.NotEmpty(t, doc.BlobKey)
		assert.True(t, strings.HasPrefix(doc.BlobKey, "processes/"+testProcessNumber+"/documents/"))
		assert.Positive(t, doc.Size)
		assert.NotNil(t, doc.DownloadCompletedAt)
		_, stored := f.blobs.objects[doc.BlobKey]
		assert.True(t, stored, "blob uploaded under the document key")
	}

	payloads := f.dispatcher.delivered()
	require.Len(t, payloads, 1)
	payload := payloads[0]
	assert.Equal(t, "completed", payload.Status)
	assert.Len(t, payload.Documents, 3)
	for _, d := range payload.Documents {
		assert.Equal(t, "available", d.Status)
		assert.Contains(t, d.DownloadURL, "?signed")
		assert.Empty(t, d.ErrorMessage)
	}
}

func TestHandleTicketPartialFailure(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "https://consumer.test/cb", 3)
	f.portal.failing["/bin/2"] = errors.New("connection reset")
	ctx := context.Background()

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err, "a failed document still acknowledges the ticket")

	final, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobStatusFailed, final.Status)
	assert.Equal(t, 2, final.CompletedDocuments)
	assert.Equal(t, 1, final.FailedDocuments)
	assert.Equal(t, float64(100), final.ProgressPercentage, "progress counts terminal documents")

	assert.Equal(t, 3, f.portal.fetchCount("/bin/2"), "failed document retried to exhaustion")
	assert.Equal(t, 1, f.portal.fetchCount("/bin/1"), "successful document fetched once")

	failed, _ := f.store.GetDocument(ctx, "doc_2")
	assert.Equal(t, models.DocumentStatusFailed, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "failed after 3 attempts")
	assert.Contains(t, failed.ErrorMessage, "connection reset")

	payloads := f.dispatcher.delivered()
	require.Len(t, payloads, 1)
	assert.Equal(t, "failed", payloads[0].Status)
	for _, d := range payloads[0].Documents {
		if d.Status == "failed" {
			assert.NotEmpty(t, d.ErrorMessage)
			assert.Empty(t, d.DownloadURL)
		}
	}
}

func TestHandleTicketSkipsNonPendingJob(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "", 1)
	ctx := context.Background()

	job.Status = models.JobStatusProcessing
	require.NoError(t, f.store.UpdateJob(ctx, job))

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err, "redelivered ticket for a claimed job is dropped")
	assert.Equal(t, 0, f.portal.fetchCount("/bin/1"))
	assert.Empty(t, f.dispatcher.delivered())
}

func TestHandleTicketDropsUnknownJob(t *testing.T) {
	f := newFixture(t)
	err := f.svc.HandleTicket(context.Background(), &interfaces.Ticket{JobID: "job_missing"})
	require.NoError(t, err)
}

func TestHandleTicketSkipsAvailableDocuments(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "", 2)
	ctx := context.Background()

	// First document already materialized by a prior run
	doc, _ := f.store.GetDocument(ctx, "doc_1")
	doc.Status = models.DocumentStatusAvailable
	doc.BlobKey = "processes/x/documents/ext-1/file-1.pdf"
	require.NoError(t, f.store.SaveDocument(ctx, doc))

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err)

	assert.Equal(t, 0, f.portal.fetchCount("/bin/1"), "available document never re-fetched")
	assert.Equal(t, 1, f.portal.fetchCount("/bin/2"))

	final, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 2, final.CompletedDocuments)
	assert.Empty(t, f.dispatcher.delivered(), "jobs without a webhook URL never reach the dispatcher")
}

func TestHandleTicketShutdownLeavesTicket(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "https://consumer.test/cb", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.Error(t, err, "shutdown must not acknowledge the ticket")
	assert.True(t, errors.Is(err, context.Canceled))

	// No document committed failed, no webhook: the redelivered ticket and
	// the sweeper pick the job back up.
	bg := context.Background()
	for _, id := range []string{"doc_1", "doc_2"} {
		doc, getErr := f.store.GetDocument(bg, id)
		require.NoError(t, getErr)
		assert.Equal(t, models.DocumentStatusPending, doc.Status)
		assert.Empty(t, doc.ErrorMessage)
	}
	final, _ := f.store.GetJob(bg, job.ID)
	assert.Equal(t, models.JobStatusProcessing, final.Status, "job stays reclaimable, never failed")
	assert.Empty(t, f.dispatcher.delivered(), "shutdown sends no webhook")
}

func TestHandleTicketShutdownMidFetchSkipsRetries(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "https://consumer.test/cb", 2)

	ctx, cancel := context.WithCancel(context.Background())
	f.portal.failing["/bin/1"] = context.Canceled
	f.portal.failing["/bin/2"] = context.Canceled
	f.svc.portal = &cancellingPortal{inner: f.portal, onFetch: cancel}

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.Error(t, err, "interrupted fetch must not acknowledge the ticket")

	bg := context.Background()
	assert.LessOrEqual(t, f.portal.fetchCount("/bin/1"), 1, "no retry after shutdown")
	assert.LessOrEqual(t, f.portal.fetchCount("/bin/2"), 1, "no retry after shutdown")
	for _, id := range []string{"doc_1", "doc_2"} {
		doc, getErr := f.store.GetDocument(bg, id)
		require.NoError(t, getErr)
		assert.NotEqual(t, models.DocumentStatusFailed, doc.Status, "interrupted document is not failed")
		assert.Empty(t, doc.ErrorMessage)
	}
	final, _ := f.store.GetJob(bg, job.ID)
	assert.Equal(t, models.JobStatusProcessing, final.Status)
	assert.Empty(t, f.dispatcher.delivered())
}

func TestHandleTicketCancelledBetweenBatches(t *testing.T) {
	f := newFixture(t)
	// 4 documents with batch size 2: cancellation lands between batches
	job := f.seedJob(t, "https://consumer.test/cb", 4)
	ctx := context.Background()

	// Cancel the job from outside as soon as the first document is fetched
	var once sync.Once
	f.portal.mu.Lock()
	f.portal.files["/bin/1"] = []byte("content-1")
	f.portal.mu.Unlock()

	// Wrap the portal to trigger cancellation on first fetch
	cancelling := &cancellingPortal{inner: f.portal, onFetch: func() {
		once.Do(func() {
			j, err := f.store.GetJob(ctx, job.ID)
			require.NoError(t, err)
			j.Status = models.JobStatusCancelled
			require.NoError(t, f.store.UpdateJob(ctx, j))
		})
	}}
	f.svc.portal = cancelling

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err)

	final, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobStatusCancelled, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Empty(t, f.dispatcher.delivered(), "cancelled jobs send no webhook")

	// Second batch never scheduled
	assert.Equal(t, 0, f.portal.fetchCount("/bin/3"))
	assert.Equal(t, 0, f.portal.fetchCount("/bin/4"))
}

func TestHandleTicketWebhookExhaustionKeepsJobCompleted(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "https://consumer.test/cb", 2)
	f.dispatcher.result = &models.DeliveryResult{
		Success:        false,
		Attempts:       3,
		LastStatusCode: 503,
		LastError:      "HTTP 503",
		Failure:        models.WebhookFailureHTTPStatus,
	}
	ctx := context.Background()

	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.NoError(t, err, "failed delivery still acknowledges the ticket")

	final, _ := f.store.GetJob(ctx, job.ID)
	assert.Equal(t, models.JobStatusCompleted, final.Status, "delivery failure never changes the terminal status")
	assert.False(t, final.WebhookSent)
	assert.Equal(t, 3, final.WebhookAttempts)
	assert.Contains(t, final.WebhookLastError, "503")
	assert.Nil(t, final.WebhookSentAt)
}

func TestHandleTicketStorageFailureLeavesTicket(t *testing.T) {
	f := newFixture(t)
	job := f.seedJob(t, "", 1)
	ctx := context.Background()

	f.store.failJobUpdates = true
	err := f.svc.HandleTicket(ctx, &interfaces.Ticket{JobID: job.ID})
	require.Error(t, err, "storage failure must not acknowledge the ticket")
}

// cancellingPortal triggers a callback before delegating fetches
type cancellingPortal struct {
	inner   *fakePortal
	onFetch func()
}

func (p *cancellingPortal) GetProcess(ctx context.Context, n string) (*interfaces.PortalProcess, error) {
	return p.inner.GetProcess(ctx, n)
}

func (p *cancellingPortal) FetchDocument(ctx context.Context, handle string) (*interfaces.PortalFile, error) {
	p.onFetch()
	return p.inner.FetchDocument(ctx, handle)
}
