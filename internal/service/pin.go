package service

import (
	"crypto/rand"
	"fmt"
	"math/big"

	apperrors "github.com/turbotransfer/host/internal/errors"
)

const (
	pinMin         = 1000
	pinMax         = 9999
	maxPINAttempts = 20
	pinSpaceSize   = pinMax - pinMin + 1
)

func randomPINIndex() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(pinSpaceSize))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

func formatPIN(index int) string {
	return fmt.Sprintf("%d", pinMin+index)
}

func generatePIN() (string, error) {
	i, err := randomPINIndex()
	if err != nil {
		return "", err
	}
	return formatPIN(i), nil
}

// pickPIN returns a random PIN not in inUse. When random draws keep
// colliding it scans the space from a random offset, so it fails only when
// every PIN is taken.
func pickPIN(inUse map[string]bool) (string, error) {
	for i := 0; i < maxPINAttempts; i++ {
		pin, err := generatePIN()
		if err != nil {
			return "", fmt.Errorf("generate pin: %w", err)
		}
		if !inUse[pin] {
			return pin, nil
		}
	}

	offset, err := randomPINIndex()
	if err != nil {
		return "", fmt.Errorf("generate pin: %w", err)
	}
	for i := 0; i < pinSpaceSize; i++ {
		pin := formatPIN((offset + i) % pinSpaceSize)
		if !inUse[pin] {
			return pin, nil
		}
	}
	return "", apperrors.CapacityExceeded(pinSpaceSize)
}
