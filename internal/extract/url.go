package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/ManuScriptHub/Neon-RAG/internal/apperr"
)

// fromURL fetches a page and extracts its text. Links to PDF and DOCX files
// are extracted as those types.
func (e *Extractor) fromURL(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", apperr.InvalidArgument("extract_url", "content must be an http or https URL")
	}

	switch strings.ToLower(path.Ext(u.Path)) {
	case ".pdf":
		body, err := e.fetch(ctx, u.String())
		if err != nil {
			return "", err
		}
		return e.fromPDF(ctx, body)
	case ".docx":
		body, err := e.fetch(ctx, u.String())
		if err != nil {
			return "", err
		}
		return e.fromDocx(ctx, body)
	}

	if e.headless {
		page, err := renderHeadless(ctx, u.String())
		if err == nil {
			return HTMLText(strings.NewReader(page))
		}
		e.logger.Warn("headless render failed, fetching directly", "url", u.String(), "error", err)
	}

	body, err := e.fetch(ctx, u.String())
	if err != nil {
		return "", err
	}
	return HTMLText(bytes.NewReader(body))
}

func (e *Extractor) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.InvalidArgument("extract_url", "invalid URL")
	}
	req.Header.Set("User-Agent", "Neon-RAG/1.0")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Unavailable("extract_url", "failed to fetch URL", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperr.Provider("extract_url", fmt.Sprintf("URL returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBody))
	if err != nil {
		return nil, apperr.Provider("extract_url", "failed to read URL body", err)
	}
	return body, nil
}

// renderHeadless loads the page in headless Chrome and returns the rendered DOM.
func renderHeadless(ctx context.Context, target string) (string, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()

	var page string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render page: %w", err)
	}
	return page, nil
}
