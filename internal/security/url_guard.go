// Package security はプロフィール入力の検証とサニタイズを提供する。
package security

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrUnsafeURL はプロフィール写真URLが許可されない場合のエラー。
var ErrUnsafeURL = errors.New("unsafe url")

// ErrNotAnImage は写真URLの応答が画像でない場合のエラー。
var ErrNotAnImage = errors.New("url does not point to an image")

// URLGuard はプロフィール写真URLを検証する。
type URLGuard interface {
	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
	// ProbeImage は安全なHTTPクライアントでURLに問い合わせ、画像であることを確認する。
	ProbeImage(ctx context.Context, rawURL string) error
}

// allowedSchemes は写真URLとして許可するスキーム。
var allowedSchemes = []string{"https"}

// blockedNetworks はブロック対象のネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// maxPhotoURLLength は写真URLの最大長。
const maxPhotoURLLength = 2048

type urlGuard struct {
	client *http.Client
}

// NewURLGuard はURLGuardを生成する。
// ProbeImageのクライアントはsafeurlにより、DNS解決後のIPアドレスも
// Dialer上で検証されるため、DNS再バインディングにも対応する。
func NewURLGuard(timeout time.Duration) *urlGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(443).
		Build()

	return &urlGuard{client: safeurl.Client(config).Client}
}

// ValidateURL はURLの安全性を静的に検証する。
func (g *urlGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrUnsafeURL)
	}
	if len(rawURL) > maxPhotoURLLength {
		return fmt.Errorf("%w: URL too long", ErrUnsafeURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("%w: disallowed scheme %q", ErrUnsafeURL, scheme)
	}
	if parsed.User != nil {
		return fmt.Errorf("%w: credentials in URL", ErrUnsafeURL)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrUnsafeURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("%w: blocked IP address %s", ErrUnsafeURL, ip)
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("%w: blocked host %s", ErrUnsafeURL, host)
	}
	return nil
}

// ProbeImage はHEADリクエストでContent-Typeがimage/*であることを確認する。
func (g *urlGuard) ProbeImage(ctx context.Context, rawURL string) error {
	if err := g.ValidateURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsafeURL, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to probe photo URL: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrNotAnImage, resp.StatusCode)
	}
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return fmt.Errorf("%w: content type %q", ErrNotAnImage, resp.Header.Get("Content-Type"))
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return true
		}
	}
	return false
}
