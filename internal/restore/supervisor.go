// Package restore re-attaches sessions whose credentials survived a
// restart.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/models"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/pkg/logger"
	"whatsapp-gateway-golang/pkg/validator"
)

// Sessions is the part of services.SessionManager a restore drives.
type Sessions interface {
	Start(ctx context.Context, tenantID, label, webhookURL string) (*services.StartResult, error)
	Logout(ctx context.Context, tenantID string) error
}

type MetadataLister interface {
	List(ctx context.Context) ([]*models.SessionMetadata, error)
}

type Report struct {
	Restored []string
	// Discarded holds tenants whose store never linked a device; their
	// credentials were removed instead of asking for a new pairing.
	Discarded []string
	Failed    map[string]error
}

type Supervisor struct {
	authDir     string
	concurrency int
	sessions    Sessions
	metadata    MetadataLister
	logger      *logger.Logger
}

func NewSupervisor(authDir string, concurrency int, sessions Sessions, metadata MetadataLister, log *logger.Logger) *Supervisor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Supervisor{
		authDir:     authDir,
		concurrency: concurrency,
		sessions:    sessions,
		metadata:    metadata,
		logger:      log,
	}
}

// Scan lists tenants that have a credential store under authDir, sorted.
func (s *Supervisor) Scan() ([]string, error) {
	entries, err := os.ReadDir(s.authDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("falha ao ler diretório de sessões: %w", err)
	}

	var tenants []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), services.CredentialDirPrefix) {
			continue
		}
		tenantID := strings.TrimPrefix(e.Name(), services.CredentialDirPrefix)
		if validator.ValidateTenantID(tenantID) != nil {
			s.logger.Warnf("Ignorando diretório de sessão inválido: %s", e.Name())
			continue
		}
		if _, err := os.Stat(filepath.Join(s.authDir, e.Name(), driver.StoreFileName)); err != nil {
			continue
		}
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *Supervisor) loadMetadata(ctx context.Context) map[string]*models.SessionMetadata {
	known := make(map[string]*models.SessionMetadata)
	if s.metadata == nil {
		return known
	}
	list, err := s.metadata.List(ctx)
	if err != nil {
		s.logger.Warnf("Falha ao ler metadados, restaurando com padrões: %v", err)
		return known
	}
	for _, meta := range list {
		known[meta.TenantID] = meta
	}
	return known
}

type outcome int

const (
	outcomeRestored outcome = iota
	outcomeDiscarded
)

// Run restores every scanned tenant, at most concurrency at a time. A
// failing tenant never stops the others.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	tenants, err := s.Scan()
	if err != nil {
		return nil, err
	}

	report := &Report{Failed: make(map[string]error)}
	if len(tenants) == 0 {
		s.logger.Info("Nenhuma sessão para restaurar")
		return report, nil
	}
	s.logger.Infof("Restaurando %d sessões...", len(tenants))

	known := s.loadMetadata(ctx)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, tenantID := range tenants {
		meta := known[tenantID]
		g.Go(func() error {
			res, err := s.restoreOne(ctx, tenantID, meta)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				s.logger.Errorf("Falha ao restaurar sessão %s: %v", tenantID, err)
				report.Failed[tenantID] = err
			case res == outcomeDiscarded:
				report.Discarded = append(report.Discarded, tenantID)
			default:
				report.Restored = append(report.Restored, tenantID)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Restored)
	sort.Strings(report.Discarded)
	s.logger.Infof("Restauração concluída: %d restauradas, %d descartadas, %d falharam",
		len(report.Restored), len(report.Discarded), len(report.Failed))
	return report, nil
}

func (s *Supervisor) restoreOne(ctx context.Context, tenantID string, meta *models.SessionMetadata) (outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// a tenant with metadata but no phone identity never finished pairing
	if meta != nil && meta.PhoneIdentity == "" {
		s.logger.Infof("[%s] Sessão nunca pareada, removendo credenciais", tenantID)
		return outcomeDiscarded, s.sessions.Logout(ctx, tenantID)
	}

	var label, webhookURL string
	if meta != nil {
		label, webhookURL = meta.SessionLabel, meta.WebhookURL
	}

	res, err := s.sessions.Start(ctx, tenantID, label, webhookURL)
	if err != nil {
		return 0, err
	}
	if res.Status == services.StatusQRReady {
		s.logger.Warnf("[%s] Credenciais não reconhecidas, descartando sessão", tenantID)
		return outcomeDiscarded, s.sessions.Logout(ctx, tenantID)
	}
	s.logger.Infof("[%s] Sessão restaurada (%s)", tenantID, res.Status)
	return outcomeRestored, nil
}
