package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/pkg/logger"
)

type startCall struct {
	tenantID   string
	label      string
	webhookURL string
}

type fakeSessions struct {
	mu       sync.Mutex
	calls    []startCall
	logouts  []string
	fail     map[string]error
	status   map[string]services.SessionState
	delay    time.Duration
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSessions) Start(ctx context.Context, tenantID, label, webhookURL string) (*services.StartResult, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, startCall{tenantID, label, webhookURL})
	f.mu.Unlock()

	if err := f.fail[tenantID]; err != nil {
		return nil, err
	}
	status := services.StatusConnected
	if st, ok := f.status[tenantID]; ok {
		status = st
	}
	return &services.StartResult{Status: status}, nil
}

func (f *fakeSessions) Logout(ctx context.Context, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, tenantID)
	return nil
}

func (f *fakeSessions) call(tenantID string) (startCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.tenantID == tenantID {
			return c, true
		}
	}
	return startCall{}, false
}

func (f *fakeSessions) loggedOut() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logouts...)
}

type fakeMetadata struct {
	rows []*models.SessionMetadata
	err  error
}

func (m fakeMetadata) List(ctx context.Context) ([]*models.SessionMetadata, error) {
	return m.rows, m.err
}

func newTestLogger() *logger.Logger {
	return logger.New("test", logger.ERROR)
}

func seedCredentials(t *testing.T, authDir, tenantID string) {
	t.Helper()
	dir := services.CredentialDir(authDir, tenantID)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, driver.StoreFileName), []byte("x"), 0o600))
}

func TestScan(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "tenant-b")
	seedCredentials(t, authDir, "tenant-a")

	// directory without a credential store
	require.NoError(t, os.MkdirAll(filepath.Join(authDir, "session-empty"), 0o700))
	// unrelated directory
	require.NoError(t, os.MkdirAll(filepath.Join(authDir, "other"), 0o700))
	// invalid tenant id
	require.NoError(t, os.MkdirAll(filepath.Join(authDir, "session-bad tenant"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "session-bad tenant", driver.StoreFileName), nil, 0o600))
	// plain file with the prefix
	require.NoError(t, os.WriteFile(filepath.Join(authDir, "session-file"), nil, 0o600))

	s := NewSupervisor(authDir, 2, &fakeSessions{}, nil, newTestLogger())
	tenants, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)
}

func TestScan_MissingDir(t *testing.T) {
	s := NewSupervisor(filepath.Join(t.TempDir(), "missing"), 1, &fakeSessions{}, nil, newTestLogger())
	tenants, err := s.Scan()
	require.NoError(t, err)
	assert.Empty(t, tenants)
}

func TestRun_UsesStoredMetadata(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "tenant-a")
	seedCredentials(t, authDir, "tenant-b")

	sessions := &fakeSessions{}
	meta := fakeMetadata{rows: []*models.SessionMetadata{
		{TenantID: "tenant-a", SessionLabel: "Loja A", WebhookURL: "https://hooks.example.com/a", PhoneIdentity: "6281234567890"},
	}}

	report, err := NewSupervisor(authDir, 2, sessions, meta, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, report.Restored)
	assert.Empty(t, report.Failed)

	a, ok := sessions.call("tenant-a")
	require.True(t, ok)
	assert.Equal(t, "Loja A", a.label)
	assert.Equal(t, "https://hooks.example.com/a", a.webhookURL)

	b, ok := sessions.call("tenant-b")
	require.True(t, ok)
	assert.Empty(t, b.label)
	assert.Empty(t, b.webhookURL)
}

func TestRun_FailureDoesNotStopOthers(t *testing.T) {
	authDir := t.TempDir()
	for _, id := range []string{"t1", "t2", "t3"} {
		seedCredentials(t, authDir, id)
	}

	boom := errors.New("boom")
	sessions := &fakeSessions{fail: map[string]error{"t2": boom}}

	report, err := NewSupervisor(authDir, 1, sessions, nil, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t3"}, report.Restored)
	require.Contains(t, report.Failed, "t2")
	assert.ErrorIs(t, report.Failed["t2"], boom)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	authDir := t.TempDir()
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		seedCredentials(t, authDir, id)
	}

	sessions := &fakeSessions{delay: 20 * time.Millisecond}
	report, err := NewSupervisor(authDir, 2, sessions, nil, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Restored, 6)
	assert.LessOrEqual(t, sessions.peak.Load(), int32(2))
}

func TestRun_CancelledContext(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "tenant-a")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sessions := &fakeSessions{}
	report, err := NewSupervisor(authDir, 1, sessions, nil, newTestLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Restored)
	assert.ErrorIs(t, report.Failed["tenant-a"], context.Canceled)

	_, called := sessions.call("tenant-a")
	assert.False(t, called)
}

func TestRun_DiscardsNeverPairedTenants(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "linked")
	seedCredentials(t, authDir, "never-paired")

	sessions := &fakeSessions{}
	meta := fakeMetadata{rows: []*models.SessionMetadata{
		{TenantID: "linked", PhoneIdentity: "6281234567890"},
		{TenantID: "never-paired", Status: "qr_ready"},
	}}

	report, err := NewSupervisor(authDir, 2, sessions, meta, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"linked"}, report.Restored)
	assert.Equal(t, []string{"never-paired"}, report.Discarded)

	_, started := sessions.call("never-paired")
	assert.False(t, started, "no pairing code is requested for a never-paired tenant")
	assert.Equal(t, []string{"never-paired"}, sessions.loggedOut())
}

func TestRun_DiscardsStoreThatAsksForPairing(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "stale")

	sessions := &fakeSessions{status: map[string]services.SessionState{"stale": services.StatusQRReady}}

	report, err := NewSupervisor(authDir, 1, sessions, nil, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Restored)
	assert.Equal(t, []string{"stale"}, report.Discarded)
	assert.Equal(t, []string{"stale"}, sessions.loggedOut())
}

func TestRun_MetadataErrorFallsBackToDefaults(t *testing.T) {
	authDir := t.TempDir()
	seedCredentials(t, authDir, "tenant-a")

	sessions := &fakeSessions{}
	meta := fakeMetadata{err: errors.New("database is locked")}

	report, err := NewSupervisor(authDir, 1, sessions, meta, newTestLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a"}, report.Restored)
	assert.Empty(t, sessions.loggedOut())
}
