package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"whatsapp-gateway-golang/internal/config"
	"whatsapp-gateway-golang/internal/driver"
	"whatsapp-gateway-golang/internal/handlers"
	"whatsapp-gateway-golang/internal/qr"
	"whatsapp-gateway-golang/internal/repository"
	"whatsapp-gateway-golang/internal/restore"
	"whatsapp-gateway-golang/internal/services"
	"whatsapp-gateway-golang/internal/webhook"
	"whatsapp-gateway-golang/pkg/logger"
)

const (
	MetadataDBFile = "gateway.db"
	Banner         = `
╔══════════════════════════════════════════════════════════╗
║                                                          ║
║        WhatsApp Gateway - Multi-Tenant                   ║
║                    Version %s                            ║
║                                                          ║
╚══════════════════════════════════════════════════════════╝
`
)

func main() {
	fmt.Printf(Banner, handlers.Version)

	cfg, err := config.Load()
	if err != nil {
		logger.New("[API] ", logger.INFO).Fatalf("Falha ao carregar configuração: %v", err)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	log := logger.New("[API] ", level)
	defer log.Sync()
	log.Info("Configuração carregada com sucesso")

	if err := os.MkdirAll(cfg.Session.AuthDir, 0o700); err != nil {
		log.Fatalf("Falha ao criar diretório de sessões: %v", err)
	}

	db, err := openMetadataDB(cfg.Session.AuthDir)
	if err != nil {
		log.Fatalf("Falha ao abrir banco de metadados: %v", err)
	}
	defer db.Close()

	repo := repository.NewSessionRepository(db, log.Named("Repository"))
	if err := repo.Migrate(context.Background()); err != nil {
		log.Fatalf("Falha ao migrar banco de metadados: %v", err)
	}
	log.Info("Banco de metadados pronto")

	emitter := webhook.NewEmitter(webhook.Config{
		Secret:      cfg.Webhook.Secret,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.Webhook.BaseDelay,
		Timeout:     cfg.Webhook.Timeout,
	}, log.Named("Webhook"))

	var terminal io.Writer
	if cfg.WhatsApp.QRTerminal {
		terminal = os.Stdout
	}
	encoder := qr.NewEncoder(cfg.WhatsApp.QRImageSize, terminal)

	factory := driver.NewWhatsmeowFactory(driver.WhatsmeowConfig{
		DefaultCountry: cfg.WhatsApp.DefaultCountry,
		MaxMediaSize:   cfg.Server.MaxUploadSize,
		LogLevel:       level,
	}, log.Named("Driver"))

	manager := services.NewSessionManager(services.ManagerConfig{
		AuthDir:           cfg.Session.AuthDir,
		DefaultWebhookURL: cfg.Webhook.DefaultURL,
		PairingTimeout:    cfg.Session.PairingTimeout,
	}, factory, encoder, emitter, repo, log.Named("Sessions"))

	restoreCtx, cancelRestore := context.WithCancel(context.Background())
	defer cancelRestore()
	if cfg.Session.Restore {
		supervisor := restore.NewSupervisor(cfg.Session.AuthDir, cfg.Session.RestoreConcurrency, manager, repo, log.Named("Restore"))
		go func() {
			if _, err := supervisor.Run(restoreCtx); err != nil {
				log.Errorf("Falha na restauração de sessões: %v", err)
			}
		}()
	}

	router := handlers.NewRouter(
		handlers.NewHandler(manager, cfg.Server.MaxUploadSize, log.Named("Handler")),
		handlers.NewSessionHandler(manager, log.Named("Handler")),
		handlers.RouterConfig{
			APIKey:         cfg.Auth.APIKey,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
		log.Named("HTTP"),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infof("Servidor API escutando na porta %s", cfg.Server.Port)
		log.Infof("Health check disponível em: http://localhost:%s/health", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Erro no servidor: %v", err)
		}
	case sig := <-shutdown:
		log.Infof("Sinal de desligamento recebido: %v", sig)
	}

	cancelRestore()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	log.Info("Encerrando servidor...")
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Erro ao encerrar servidor: %v", err)
		if err := server.Close(); err != nil {
			log.Errorf("Erro ao fechar servidor: %v", err)
		}
	}

	log.Info("Encerrando sessões...")
	if err := manager.Shutdown(ctx); err != nil {
		log.Errorf("Erro ao encerrar sessões: %v", err)
	}

	log.Info("Servidor encerrado com sucesso")
}

func openMetadataDB(authDir string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.Join(authDir, MetadataDBFile))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
