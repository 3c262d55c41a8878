package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turbotransfer/host/internal/errors"
	"github.com/turbotransfer/host/internal/model"
	"github.com/turbotransfer/host/internal/util"
)

func newPairingFixture(t *testing.T, opts PairingOptions) (*PairingService, *registryFixture) {
	t.Helper()
	f := newRegistryFixture(t, 0)
	return NewPairingService(f.registry, opts), f
}

func TestGeneratePIN(t *testing.T) {
	for i := 0; i < 200; i++ {
		pin, err := generatePIN()
		require.NoError(t, err)
		assert.True(t, util.IsValidPIN(pin), "pin %q out of range", pin)
	}
}

func TestPairing_Initiate(t *testing.T) {
	ctx := context.Background()

	t.Run("host caller receives the pin", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{})
		result, err := svc.Initiate(ctx, InitiateParams{DeviceName: "Living Room iPad", IsHost: true})
		require.NoError(t, err)
		assert.NotEmpty(t, result.PIN)
		assert.Equal(t, "Living Room iPad", result.DeviceName)
		assert.Equal(t, model.SessionStatusPendingVerification, result.Status)
	})

	t.Run("mobile caller never receives the pin", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{})
		result, err := svc.Initiate(ctx, InitiateParams{
			UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)",
		})
		require.NoError(t, err)
		assert.Empty(t, result.PIN)
		assert.Equal(t, "iPhone", result.DeviceName)
	})

	t.Run("device token is stored only as fingerprint", func(t *testing.T) {
		svc, f := newPairingFixture(t, PairingOptions{FingerprintSecret: "secret"})
		expected := util.DeviceFingerprint("secret", "raw-token")
		f.blocklist.On("FindByFingerprint", mock.Anything, expected).Return(nil, nil).Once()

		result, err := svc.Initiate(ctx, InitiateParams{DeviceName: "Pixel", DeviceToken: "raw-token"})
		require.NoError(t, err)

		session, err := f.registry.Get(result.SessionID)
		require.NoError(t, err)
		assert.Equal(t, expected, session.Fingerprint)
		f.blocklist.AssertExpectations(t)
	})
}

func TestPairing_Verify(t *testing.T) {
	ctx := context.Background()
	svc, _ := newPairingFixture(t, PairingOptions{})

	result, err := svc.Initiate(ctx, InitiateParams{DeviceName: "iPhone", IsHost: true})
	require.NoError(t, err)

	t.Run("missing pin", func(t *testing.T) {
		_, err := svc.Verify(ctx, result.SessionID, " ")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingRequired))
	})

	t.Run("malformed pin", func(t *testing.T) {
		_, err := svc.Verify(ctx, result.SessionID, "12ab")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidPIN))
	})

	t.Run("pin without session id", func(t *testing.T) {
		session, err := svc.Verify(ctx, "", result.PIN)
		require.NoError(t, err)
		assert.Equal(t, result.SessionID, session.ID)
		assert.Equal(t, model.SessionStatusAuthenticated, session.Status)
	})
}

func TestPairing_Target(t *testing.T) {
	t.Run("uses resolved lan address", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{
			Port:        8000,
			HostAddress: func() (string, error) { return "192.168.1.20", nil },
		})
		target, err := svc.PairingTarget()
		require.NoError(t, err)
		assert.Equal(t, "https://192.168.1.20:8000/?id=session&start=1", target)
	})

	t.Run("public host override and scheme", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{
			Port:         8000,
			PublicScheme: "http",
			PublicHost:   "turbo.local:9443",
		})
		target, err := svc.PairingTarget()
		require.NoError(t, err)
		assert.Equal(t, "http://turbo.local:9443/?id=session&start=1", target)
	})

	t.Run("address lookup failure", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{
			HostAddress: func() (string, error) { return "", errors.New("no interfaces") },
		})
		_, err := svc.PairingTarget()
		assert.Error(t, err)
	})

	t.Run("qr code is a png", func(t *testing.T) {
		svc, _ := newPairingFixture(t, PairingOptions{Port: 8000, PublicHost: "10.0.0.5"})
		png, err := svc.PairingQR(0)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))
	})
}

func TestDeviceNameFromUserAgent(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)", "iPhone"},
		{"Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X)", "iPad"},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", "Android Device"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64)", "Windows PC"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0)", "Mac"},
		{"Mozilla/5.0 (X11; Linux x86_64)", "Linux PC"},
		{"curl/8.0", "Unknown Device"},
		{"", "Unknown Device"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, DeviceNameFromUserAgent(tc.ua))
		})
	}
}
