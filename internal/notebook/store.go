package notebook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mithrel/pollsock/pkg/api"
)

// HTTPStore creates documents with POST {BaseURL}/api/notebooks/{path}.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPStore(baseURL, token string) *HTTPStore {
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *HTTPStore) Create(ctx context.Context, path string) (string, error) {
	u := URLJoinEncode(s.baseURL, "api/notebooks", path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("create notebook failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var res api.DocumentResult
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return res.Name, nil
}

// WriterSurfaces presents surfaces as lines on a writer, for terminals.
type WriterSurfaces struct {
	W io.Writer
}

func (ws WriterSurfaces) OpenBlank() (Surface, error) {
	if _, err := fmt.Fprintln(ws.W, "opened blank surface"); err != nil {
		return nil, err
	}
	return writerSurface{w: ws.W}, nil
}

type writerSurface struct {
	w io.Writer
}

func (s writerSurface) Navigate(url string) error {
	_, err := fmt.Fprintf(s.w, "navigate %s\n", url)
	return err
}
