// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// =============================================================================
// SSRF PROTECTION
// =============================================================================

var blockedCIDRs = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"192.0.0.0/24",
	"198.18.0.0/15",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"::1/128",
	"::/128",
	"64:ff9b::/96",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
}

var blockedHosts = []string{
	"metadata.google.internal",
	"metadata.google.com",
	"169.254.169.254",
	"metadata",
	"instance-data",
	"localhost",
}

var blockedNetworks = func() []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(blockedCIDRs))
	for _, cidr := range blockedCIDRs {
		if _, n, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}()

// Fetch errors.
var (
	ErrBlockedIP        = errors.New("IP address is blocked (private/internal range)")
	ErrBlockedHost      = errors.New("hostname is blocked")
	ErrInvalidScheme    = errors.New("only http and https schemes are allowed")
	ErrInvalidURL       = errors.New("invalid URL")
	ErrTooManyRedirects = errors.New("too many redirects")
)

func isBlockedIP(ip net.IP) bool {
	for _, n := range blockedNetworks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// =============================================================================
// FETCHER
// =============================================================================

// Fetcher retrieves web pages as readable text.
type Fetcher struct {
	// AllowPrivate disables the address blocklist and keeps plain http.
	AllowPrivate bool

	// MaxBytes caps the body read (default 2MB).
	MaxBytes int64

	// Timeout bounds the whole request (default 20s).
	Timeout time.Duration

	// MaxRedirects bounds redirect chains (default 5).
	MaxRedirects int

	// UserAgent is sent with every request.
	UserAgent string
}

// FetchResult is the output of one fetch.
type FetchResult struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func (f *Fetcher) defaults() {
	if f.MaxBytes <= 0 {
		f.MaxBytes = 2 << 20
	}
	if f.Timeout <= 0 {
		f.Timeout = 20 * time.Second
	}
	if f.MaxRedirects <= 0 {
		f.MaxRedirects = 5
	}
	if f.UserAgent == "" {
		f.UserAgent = "rigrun-chat/1.0 (+https://github.com/jeranaias/rigrun-chat)"
	}
}

// ValidateURL parses rawURL and rejects schemes and hosts that are not
// allowed. Plain http is upgraded to https unless AllowPrivate is set.
func (f *Fetcher) ValidateURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ErrInvalidURL
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !f.AllowPrivate {
			u.Scheme = "https"
		}
	default:
		return nil, ErrInvalidScheme
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, ErrInvalidURL
	}
	if f.AllowPrivate {
		return u, nil
	}
	for _, blocked := range blockedHosts {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return nil, ErrBlockedHost
		}
	}
	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return nil, ErrBlockedIP
	}
	return u, nil
}

func (f *Fetcher) client() *http.Client {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if f.AllowPrivate {
				return dialer.DialContext(ctx, network, addr)
			}
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, err
			}
			if len(ips) == 0 {
				return nil, errors.New("no IP addresses resolved")
			}
			for _, ip := range ips {
				if isBlockedIP(ip) {
					return nil, ErrBlockedIP
				}
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		},
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   f.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.MaxRedirects {
				return ErrTooManyRedirects
			}
			_, err := f.ValidateURL(req.URL.String())
			return err
		},
	}
}

// Fetch downloads rawURL and converts HTML to text or markdown.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, markdown bool) (*FetchResult, error) {
	f.defaults()

	u, err := f.ValidateURL(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain,application/json;q=0.9,*/*;q=0.5")

	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	truncated := int64(len(body)) > f.MaxBytes
	if truncated {
		body = body[:f.MaxBytes]
	}

	ct := resp.Header.Get("Content-Type")
	var content string
	switch {
	case strings.Contains(ct, "text/html"):
		content = HTMLToText(string(body), markdown)
	case strings.HasPrefix(ct, "text/"), strings.Contains(ct, "json"), ct == "":
		content = string(body)
	default:
		content = "[unsupported content type: " + ct + "]"
	}

	return &FetchResult{
		URL:         resp.Request.URL.String(),
		ContentType: ct,
		Content:     content,
		Truncated:   truncated,
	}, nil
}

// FetchURLTool exposes f as the fetch_url tool.
func FetchURLTool(f *Fetcher) *Tool {
	return &Tool{
		Name:        "fetch_url",
		Description: "Fetch a public web page and return its readable text.",
		Schema: Schema{Parameters: []Parameter{
			{Name: "url", Type: "string", Required: true, Description: "http or https URL"},
			{Name: "format", Type: "string", Description: "Output format", Default: "text", Enum: []string{"text", "markdown"}},
		}},
		RiskLevel: RiskMedium,
		Executor: ExecutorFunc(func(ctx context.Context, params map[string]any) (Result, error) {
			res, err := f.Fetch(ctx, stringParam(params, "url", ""), stringParam(params, "format", "text") == "markdown")
			if err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				return Failure("fetch failed: " + err.Error()), nil
			}
			return Result{Success: true, Output: res, Truncated: res.Truncated}, nil
		}),
	}
}

// =============================================================================
// HTML TO TEXT
// =============================================================================

var (
	dropTagRegex      = regexp.MustCompile(`(?is)<(script|style|noscript|iframe|svg)\b[^>]*>.*?</(script|style|noscript|iframe|svg)>`)
	headRegex         = regexp.MustCompile(`(?is)<head\b[^>]*>.*?</head>`)
	htmlCommentRegex  = regexp.MustCompile(`(?s)<!--.*?-->`)
	headingRegex      = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	linkRegex         = regexp.MustCompile(`(?is)<a[^>]*href=["']([^"']+)["'][^>]*>(.*?)</a>`)
	listItemRegex     = regexp.MustCompile(`(?i)<li[^>]*>`)
	preRegex          = regexp.MustCompile(`(?is)<pre[^>]*>(.*?)</pre>`)
	inlineCodeRegex   = regexp.MustCompile(`(?is)<code[^>]*>(.*?)</code>`)
	blockBreakRegex   = regexp.MustCompile(`(?i)</?(p|div|tr|ul|ol|table|section|article|blockquote)[^>]*>|</li>`)
	brRegex           = regexp.MustCompile(`(?i)<br\s*/?>`)
	htmlTagRegex      = regexp.MustCompile(`<[^>]*>`)
	multiSpaceRegex   = regexp.MustCompile(`[ \t]+`)
	multiNewlineRegex = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText strips markup from an HTML document. With markdown set,
// headings, links and code keep a markdown rendering.
func HTMLToText(doc string, markdown bool) string {
	s := dropTagRegex.ReplaceAllString(doc, "")
	s = headRegex.ReplaceAllString(s, "")
	s = htmlCommentRegex.ReplaceAllString(s, "")

	if markdown {
		s = headingRegex.ReplaceAllStringFunc(s, func(m string) string {
			sub := headingRegex.FindStringSubmatch(m)
			level := int(sub[1][0] - '0')
			return "\n\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(sub[2]) + "\n\n"
		})
		s = linkRegex.ReplaceAllString(s, "[$2]($1)")
		s = preRegex.ReplaceAllString(s, "\n```\n$1\n```\n")
		s = inlineCodeRegex.ReplaceAllString(s, "`$1`")
		s = listItemRegex.ReplaceAllString(s, "\n- ")
	} else {
		s = headingRegex.ReplaceAllString(s, "\n\n$2\n\n")
		s = listItemRegex.ReplaceAllString(s, "\n* ")
	}

	s = brRegex.ReplaceAllString(s, "\n")
	s = blockBreakRegex.ReplaceAllString(s, "\n\n")
	s = htmlTagRegex.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return cleanWhitespace(s)
}

func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(multiSpaceRegex.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(multiNewlineRegex.ReplaceAllString(s, "\n\n"))
}
