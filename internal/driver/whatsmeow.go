package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"whatsapp-gateway-golang/pkg/logger"
)

// StoreFileName is the credential database inside each tenant directory.
const StoreFileName = "store.db"

type WhatsmeowConfig struct {
	DefaultCountry string
	MaxMediaSize   int64
	LogLevel       logger.Level
}

type WhatsmeowFactory struct {
	cfg    WhatsmeowConfig
	logger *logger.Logger
	media  *mediaLoader
}

func NewWhatsmeowFactory(cfg WhatsmeowConfig, log *logger.Logger) *WhatsmeowFactory {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &WhatsmeowFactory{
		cfg:    cfg,
		logger: log,
		media: &mediaLoader{
			httpClient: &http.Client{Transport: tr, Timeout: 2 * time.Minute},
			maxSize:    cfg.MaxMediaSize,
			logger:     log,
		},
	}
}

func (f *WhatsmeowFactory) New(ctx context.Context, tenantID, credentialDir string, handler Handler) (Driver, error) {
	if err := os.MkdirAll(credentialDir, 0o700); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório de credenciais: %w", err)
	}

	waLogger := logger.NewWhatsAppLogger(fmt.Sprintf("[WA:%s] ", tenantID), f.cfg.LogLevel)

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", filepath.Join(credentialDir, StoreFileName))
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLogger.Sub("Database"))
	if err != nil {
		return nil, fmt.Errorf("falha ao inicializar banco de dados: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("falha ao obter device: %w", err)
	}

	d := &whatsmeowDriver{
		tenantID:       tenantID,
		defaultCountry: f.cfg.DefaultCountry,
		container:      container,
		client:         whatsmeow.NewClient(device, waLogger),
		handler:        handler,
		media:          f.media,
		logger:         f.logger.With("tenant", tenantID),
	}
	d.handlerID = d.client.AddEventHandler(d.handleEvent)
	return d, nil
}

type whatsmeowDriver struct {
	tenantID       string
	defaultCountry string

	container *sqlstore.Container
	client    *whatsmeow.Client
	handlerID uint32
	handler   Handler
	media     *mediaLoader
	logger    *logger.Logger

	mu                sync.Mutex
	cancelQR          context.CancelFunc
	authenticatedSent bool
	ready             bool

	destroyOnce sync.Once
}

func (d *whatsmeowDriver) Initialize(ctx context.Context) error {
	if d.client.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := d.client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("falha ao obter canal de QR: %w", err)
		}
		d.mu.Lock()
		d.cancelQR = cancel
		d.mu.Unlock()
		go d.watchQR(qrChan)
	}

	if err := d.client.Connect(); err != nil {
		return fmt.Errorf("falha ao conectar: %w", err)
	}
	return nil
}

func (d *whatsmeowDriver) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch {
		case item.Event == whatsmeow.QRChannelEventCode:
			d.handler(Event{Kind: EventQR, Code: item.Code, Expires: item.Timeout})
		case item == whatsmeow.QRChannelSuccess:
			return
		case item == whatsmeow.QRChannelTimeout:
			d.handler(Event{Kind: EventAuthFailure, Reason: "pairing timeout"})
			return
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			d.logger.Errorf("Erro no pairing: %s", reason)
			d.handler(Event{Kind: EventAuthFailure, Reason: reason, Err: item.Error})
			return
		}
	}
}

func (d *whatsmeowDriver) markAuthenticated() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.authenticatedSent {
		return false
	}
	d.authenticatedSent = true
	return true
}

func (d *whatsmeowDriver) isReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ready
}

func (d *whatsmeowDriver) ownPhone() string {
	if d.client == nil || d.client.Store == nil || d.client.Store.ID == nil {
		return ""
	}
	return d.client.Store.ID.User
}

func (d *whatsmeowDriver) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.PairSuccess:
		if d.markAuthenticated() {
			d.handler(Event{Kind: EventAuthenticated})
		}

	case *events.Connected:
		if d.markAuthenticated() {
			d.handler(Event{Kind: EventAuthenticated})
		}
		phone := d.ownPhone()
		d.mu.Lock()
		d.ready = true
		d.mu.Unlock()
		d.handler(Event{Kind: EventReady, PhoneIdentity: phone})

	case *events.LoggedOut:
		if d.isReady() {
			d.handler(Event{Kind: EventDisconnected, Reason: "LOGOUT", LoggedOut: true})
			return
		}
		d.handler(Event{Kind: EventAuthFailure, Reason: v.Reason.String()})

	case *events.ConnectFailure:
		// only a logged-out reason means the credentials were rejected;
		// server errors keep the store for the next start
		if v.Reason.IsLoggedOut() && !d.isReady() {
			d.handler(Event{Kind: EventAuthFailure, Reason: v.Reason.String()})
			return
		}
		d.handler(Event{Kind: EventDisconnected, Reason: v.Reason.String(), LoggedOut: v.Reason.IsLoggedOut()})

	case *events.ClientOutdated:
		d.handler(Event{Kind: EventAuthFailure, Reason: "client outdated"})

	case *events.PairError:
		d.handler(Event{Kind: EventAuthFailure, Reason: "pair error", Err: v.Error})

	case *events.StreamReplaced:
		d.handler(Event{Kind: EventDisconnected, Reason: "CONFLICT"})

	case *events.TemporaryBan:
		d.handler(Event{Kind: EventDisconnected, Reason: v.String()})

	case *events.Disconnected:
		if !d.isReady() {
			d.logger.Warn("Conexão caiu antes de ficar pronta")
			return
		}
		d.handler(Event{Kind: EventDisconnected, Reason: "NAVIGATION"})

	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		typ := v.Info.MediaType
		if typ == "" {
			typ = "text"
		}
		d.handler(Event{Kind: EventMessage, Message: &InboundMessage{
			ID:        v.Info.ID,
			From:      v.Info.Sender.User,
			Body:      messageBody(v.Message),
			Timestamp: v.Info.Timestamp,
			Type:      typ,
		}})
	}
}

func messageBody(m *waE2E.Message) string {
	switch {
	case m.GetConversation() != "":
		return m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		return m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage().GetCaption() != "":
		return m.GetImageMessage().GetCaption()
	case m.GetVideoMessage().GetCaption() != "":
		return m.GetVideoMessage().GetCaption()
	default:
		return m.GetDocumentMessage().GetCaption()
	}
}

func (d *whatsmeowDriver) SendText(ctx context.Context, to, text string) (SendResult, error) {
	jid, err := ParseRecipient(to, d.defaultCountry)
	if err != nil {
		return SendResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := d.client.SendMessage(ctx, jid, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
		},
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("falha ao enviar mensagem: %w", err)
	}
	return SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (d *whatsmeowDriver) SendMedia(ctx context.Context, to string, media Media) (SendResult, error) {
	jid, err := ParseRecipient(to, d.defaultCountry)
	if err != nil {
		return SendResult{}, err
	}

	prepared, err := d.media.prepare(ctx, media)
	if err != nil {
		return SendResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	uploaded, err := d.client.Upload(ctx, prepared.data, determineMediaType(prepared.contentType))
	if err != nil {
		return SendResult{}, fmt.Errorf("falha ao fazer upload da mídia: %w", err)
	}

	resp, err := d.client.SendMessage(ctx, jid, buildMediaMessage(uploaded, prepared, media.Caption))
	if err != nil {
		return SendResult{}, fmt.Errorf("falha ao enviar mensagem de mídia: %w", err)
	}
	return SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (d *whatsmeowDriver) Logout(ctx context.Context) error {
	if d.client.Store.ID == nil {
		return nil
	}
	if err := d.client.Logout(ctx); err != nil && !errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("falha ao desvincular dispositivo: %w", err)
	}
	return nil
}

func (d *whatsmeowDriver) Destroy() {
	d.destroyOnce.Do(func() {
		d.mu.Lock()
		if d.cancelQR != nil {
			d.cancelQR()
		}
		d.mu.Unlock()

		d.client.RemoveEventHandler(d.handlerID)
		d.client.Disconnect()
		if err := d.container.Close(); err != nil {
			d.logger.Warnf("Falha ao fechar store de credenciais: %v", err)
		}
	})
}
