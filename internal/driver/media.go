package driver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"

	"whatsapp-gateway-golang/pkg/logger"
)

type mediaLoader struct {
	httpClient *http.Client
	maxSize    int64
	logger     *logger.Logger
}

type preparedMedia struct {
	data        []byte
	contentType string
	filename    string
}

func (l *mediaLoader) prepare(ctx context.Context, m Media) (*preparedMedia, error) {
	switch {
	case m.Base64 != "":
		data, ct, err := decodeBase64Media(m.Base64, m.MimeType)
		if err != nil {
			return nil, err
		}
		return &preparedMedia{data: data, contentType: ct, filename: mediaFilename("", ct)}, nil

	case m.URL != "":
		data, ct, err := l.download(ctx, m.URL)
		if err != nil {
			return nil, err
		}
		if m.MimeType != "" {
			ct = m.MimeType
		}
		return &preparedMedia{data: data, contentType: ct, filename: mediaFilename(m.URL, ct)}, nil

	default:
		return nil, fmt.Errorf("%w: é necessário fornecer mediaUrl ou mediaBase64", ErrMediaSource)
	}
}

func mediaFilename(rawURL, contentType string) string {
	ext := ""
	if rawURL != "" {
		p := rawURL
		if i := strings.IndexAny(p, "?#"); i != -1 {
			p = p[:i]
		}
		ext = path.Ext(p)
	}
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return "media" + ext
}

func decodeBase64Media(base64Str, mimeType string) ([]byte, string, error) {
	b := strings.TrimSpace(base64Str)

	if strings.HasPrefix(b, "data:") {
		if idx := strings.IndexByte(b, ','); idx != -1 {
			if mimeType == "" {
				header := strings.TrimPrefix(b[:idx], "data:")
				mimeType, _, _ = strings.Cut(header, ";")
			}
			b = b[idx+1:]
		}
	}
	b = strings.NewReplacer("\n", "", "\r", "").Replace(b)
	b = strings.TrimSpace(b)

	data, err := base64.StdEncoding.DecodeString(b)
	if err != nil {
		return nil, "", fmt.Errorf("%w: falha ao decodificar base64: %v", ErrMediaSource, err)
	}

	ct := mimeType
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func (l *mediaLoader) download(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: falha ao criar requisição: %v", ErrMediaSource, err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("falha ao baixar mídia: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			l.logger.Errorf("falha ao fechar corpo da resposta: %v", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: falha ao baixar mídia: status %d", ErrMediaSource, resp.StatusCode)
	}

	limit := l.maxSize
	if limit <= 0 {
		limit = 25 << 20
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("falha ao ler mídia: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: mídia excede o limite de %d bytes", ErrMediaSource, limit)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return data, ct, nil
}

func determineMediaType(contentType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(contentType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(uploaded whatsmeow.UploadResponse, m *preparedMedia, caption string) *waE2E.Message {
	size := uint64(len(m.data))

	switch determineMediaType(m.contentType) {
	case whatsmeow.MediaImage:
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(m.contentType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(size),
				Caption:       proto.String(caption),
			},
		}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{
			VideoMessage: &waE2E.VideoMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(m.contentType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(size),
				Caption:       proto.String(caption),
			},
		}
	case whatsmeow.MediaAudio:
		return &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(m.contentType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(size),
			},
		}
	default:
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				URL:           proto.String(uploaded.URL),
				DirectPath:    proto.String(uploaded.DirectPath),
				MediaKey:      uploaded.MediaKey,
				Mimetype:      proto.String(m.contentType),
				FileEncSHA256: uploaded.FileEncSHA256,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    proto.Uint64(size),
				FileName:      proto.String(m.filename),
				Caption:       proto.String(caption),
			},
		}
	}
}
