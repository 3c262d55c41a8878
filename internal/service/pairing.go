package service

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/util"
)

const (
	defaultQRSize = 256
	maxQRSize     = 1024
)

type PairingOptions struct {
	FingerprintSecret string
	PublicScheme      string
	PublicHost        string
	Port              int
	// HostAddress resolves the LAN address embedded in the pairing target
	// when PublicHost is empty.
	HostAddress func() (string, error)
}

type InitiateParams struct {
	DeviceName  string
	UserAgent   string
	DeviceToken string
	IsHost      bool
}

type InitiateResult struct {
	SessionID  string              `json:"session_id"`
	DeviceName string              `json:"device_name"`
	Status     model.SessionStatus `json:"status"`
	ExpiresAt  time.Time           `json:"expires_at"`
	PIN        string              `json:"pin,omitempty"`
}

type PairingService struct {
	registry *SessionRegistry
	opts     PairingOptions
}

func NewPairingService(registry *SessionRegistry, opts PairingOptions) *PairingService {
	if opts.PublicScheme == "" {
		opts.PublicScheme = "https"
	}
	return &PairingService{
		registry: registry,
		opts:     opts,
	}
}

// Initiate opens a new pending session. Only host callers get the PIN back;
// a mobile device must learn it out of band from the host screen.
func (s *PairingService) Initiate(ctx context.Context, p InitiateParams) (*InitiateResult, error) {
	deviceName := strings.TrimSpace(p.DeviceName)
	if deviceName == "" {
		deviceName = DeviceNameFromUserAgent(p.UserAgent)
	}

	session, err := s.registry.Create(ctx, model.CreateSessionParams{
		DeviceName:  deviceName,
		Fingerprint: util.DeviceFingerprint(s.opts.FingerprintSecret, p.DeviceToken),
	})
	if err != nil {
		return nil, err
	}

	result := &InitiateResult{
		SessionID:  session.ID,
		DeviceName: session.DeviceName,
		Status:     session.Status,
		ExpiresAt:  session.PINExpiresAt,
	}
	if p.IsHost {
		result.PIN = session.PIN
	}
	return result, nil
}

// Verify checks pin against sessionID, or against whichever pending session
// holds it when sessionID is empty.
func (s *PairingService) Verify(ctx context.Context, sessionID, pin string) (*model.Session, error) {
	pin = strings.TrimSpace(pin)
	if pin == "" {
		return nil, apperrors.MissingRequired("pin")
	}
	if !util.IsValidPIN(pin) {
		return nil, apperrors.InvalidPIN()
	}
	if sessionID == "" {
		return s.registry.VerifyPIN(ctx, pin)
	}
	return s.registry.Verify(ctx, sessionID, pin)
}

// PairingTarget is the URL encoded in the pairing QR code. It carries no
// secret.
func (s *PairingService) PairingTarget() (string, error) {
	host := s.opts.PublicHost
	if host == "" {
		if s.opts.HostAddress == nil {
			return "", apperrors.Internal("Host address is unavailable")
		}
		addr, err := s.opts.HostAddress()
		if err != nil {
			return "", fmt.Errorf("resolve host address: %w", err)
		}
		host = addr
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, strconv.Itoa(s.opts.Port))
	}

	target := url.URL{
		Scheme:   s.opts.PublicScheme,
		Host:     host,
		Path:     "/",
		RawQuery: "id=session&start=1",
	}
	return target.String(), nil
}

func (s *PairingService) PairingQR(size int) ([]byte, error) {
	if size <= 0 {
		size = defaultQRSize
	}
	if size > maxQRSize {
		size = maxQRSize
	}

	target, err := s.PairingTarget()
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(target, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// DeviceNameFromUserAgent guesses a friendly label for a device that did
// not name itself.
func DeviceNameFromUserAgent(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		return "Android Device"
	case strings.Contains(ua, "windows"):
		return "Windows PC"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "Mac"
	case strings.Contains(ua, "cros"):
		return "Chromebook"
	case strings.Contains(ua, "linux"):
		return "Linux PC"
	}
	return "Unknown Device"
}
