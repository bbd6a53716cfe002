// Package tts synthesizes advisor lines to MP3 via the Google Translate
// speech endpoint.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"phoneagent_backend/platform/logger"
)

const translateTTSEndpoint = "https://translate.google.com/translate_tts"

// The endpoint rejects long inputs; advisor lines are short by prompt
// design, anything longer is truncated at a word boundary.
const maxUtteranceLen = 200

// Config for the synthesizer.
type Config struct {
	Lang     string // BCP-47 language tag, default "es"
	CacheDir string // where MP3 files land
	BaseURL  string // public URL prefix the gateway fetches audio from
}

// Synthesizer implements conversation.Synthesizer over the Google
// Translate TTS endpoint. Files are cached on disk and served by the
// audio handler; the returned URL is what the telephony gateway plays.
type Synthesizer struct {
	lang     string
	cacheDir string
	baseURL  string
	http     *http.Client
	log      *logger.Logger
}

func New(cfg Config, log *logger.Logger) (*Synthesizer, error) {
	if cfg.Lang == "" {
		cfg.Lang = "es"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "voice-cache"
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create voice cache dir: %w", err)
	}
	return &Synthesizer{
		lang:     cfg.Lang,
		cacheDir: cfg.CacheDir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}, nil
}

// Synthesize fetches speech for text, writes it to the cache dir, and
// returns the public URL for playback.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (string, error) {
	text = truncateUtterance(strings.TrimSpace(text))
	if text == "" {
		return "", fmt.Errorf("nothing to synthesize")
	}

	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("client", "tw-ob")
	query.Set("tl", s.lang)
	query.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, translateTTSEndpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tts endpoint returned %d", resp.StatusCode)
	}

	filename := fmt.Sprintf("speech-%d.mp3", time.Now().UnixNano())
	path := filepath.Join(s.cacheDir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close audio file: %w", err)
	}

	s.log.Debug("synthesized utterance", "file", filename, "chars", len(text))
	return s.baseURL + "/audio/" + filename, nil
}

// Cleanup removes cached audio older than maxAge so the cache dir does
// not grow unbounded. The server runs it periodically.
func (s *Synthesizer) Cleanup(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.cacheDir)
	if err != nil {
		return fmt.Errorf("read voice cache dir: %w", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.cacheDir, entry.Name())); err != nil {
			s.log.Warn("failed to remove stale audio file", "file", entry.Name(), "error", err)
		}
	}
	return nil
}

func truncateUtterance(text string) string {
	if len(text) <= maxUtteranceLen {
		return text
	}
	cut := text[:maxUtteranceLen]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}
