// Package storage удаляет осиротевшие изображения из файлового хранилища.
// Удаление best-effort: любые ошибки по умолчанию лишь логируются,
// конвейер синхронизации из-за них не останавливается.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client HTTP-клиент хранилища изображений
type Client struct {
	baseURL     string
	origin      string
	apiToken    string
	failOnError bool

	httpClient *http.Client
	logger     *slog.Logger
}

// Options параметры клиента хранилища
type Options struct {
	BaseURL     string
	APIToken    string
	Timeout     time.Duration
	FailOnError bool
	Logger      *slog.Logger
}

// NewClient создает клиент хранилища.
// BaseURL обязан быть корректным http(s)-адресом, токен непустым.
func NewClient(options Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(options.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("storage base url must be a valid http(s) url, got %q", options.BaseURL)
	}

	token := strings.TrimSpace(options.APIToken)
	if token == "" {
		return nil, fmt.Errorf("storage api token must be non-empty")
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     base,
		origin:      parsed.Scheme + "://" + parsed.Host,
		apiToken:    token,
		failOnError: options.FailOnError,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}, nil
}

// DeleteImages удаляет изображения по их URL.
// Чужие адреса и неразборчивые имена молча пропускаются.
func (c *Client) DeleteImages(ctx context.Context, urls []string) error {
	for _, imageName := range c.uniqueImageNames(urls) {
		if err := c.deleteOne(ctx, imageName); err != nil {
			if c.failOnError {
				return err
			}
			c.logger.Warn("storage delete failed", "image", imageName, "error", err)
		}
	}
	return nil
}

func (c *Client) uniqueImageNames(urls []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, rawURL := range urls {
		imageName := c.imageNameFromURL(rawURL)
		if imageName == "" || seen[imageName] {
			continue
		}
		seen[imageName] = true
		out = append(out, imageName)
	}
	return out
}

// imageNameFromURL извлекает имя файла из URL изображения.
// Абсолютные URL другого origin и имена с разделителями пути отвергаются.
func (c *Client) imageNameFromURL(rawURL string) string {
	token := strings.TrimSpace(rawURL)
	if token == "" {
		return ""
	}

	path := token
	if parsed, err := url.Parse(token); err == nil && parsed.Scheme != "" && parsed.Host != "" {
		if parsed.Scheme+"://"+parsed.Host != c.origin {
			return ""
		}
		path = parsed.Path
	}

	path = strings.TrimSpace(path)
	var imageName string
	switch {
	case strings.HasPrefix(path, "/api/images/"):
		imageName = strings.TrimPrefix(path, "/api/images/")
	case strings.HasPrefix(path, "/images/"):
		imageName = strings.TrimPrefix(path, "/images/")
	case strings.HasPrefix(path, "images/"):
		imageName = strings.TrimPrefix(path, "images/")
	default:
		return ""
	}

	if decoded, err := url.PathUnescape(imageName); err == nil {
		imageName = decoded
	}
	imageName = strings.TrimLeft(strings.TrimSpace(imageName), "/")

	if imageName == "" {
		return ""
	}
	if strings.ContainsAny(imageName, "/\\") || strings.Contains(imageName, "..") {
		return ""
	}
	return imageName
}

// deleteOne выполняет DELETE одного изображения.
// 204 и 404 считаются успехом: изображения больше нет.
func (c *Client) deleteOne(ctx context.Context, imageName string) error {
	target := c.baseURL + "/api/images/" + url.PathEscape(imageName)

	request, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build storage delete request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", imageName, err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusNoContent, http.StatusNotFound, http.StatusOK:
		return nil
	}
	return fmt.Errorf("failed to delete image %s: HTTP %d", imageName, response.StatusCode)
}
