package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".ig-caption-studio"
	credentialFile = "gemini.gpg"

	// GeminiKeyEnv is the environment variable holding the Gemini API key.
	GeminiKeyEnv = "GEMINI_API_KEY"
)

// ErrNoAPIKey is returned when no Gemini API key source yields a value.
var ErrNoAPIKey = errors.New("Gemini API key not found. Set GEMINI_API_KEY, GEMINI_API_KEY_PARAM, or create ~/.ig-caption-studio/gemini.gpg")

// GeminiAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. remote, when non-nil (an SSM SecureString in deployed setups)
//  3. GPG-encrypted file at ~/.ig-caption-studio/gemini.gpg
func GeminiAPIKey(ctx context.Context, remote SecretProvider) (string, error) {
	if key := os.Getenv(GeminiKeyEnv); key != "" {
		log.Debug().Msg("Using Gemini API key from environment variable")
		return key, nil
	}

	if remote != nil {
		key, err := remote(ctx)
		if err == nil && key != "" {
			log.Debug().Msg("Using Gemini API key from parameter store")
			return key, nil
		}
		log.Debug().Err(err).Msg("Gemini API key not available from parameter store")
	}

	key, err := getFromGPG(ctx)
	if err == nil && key != "" {
		log.Debug().Msg("Using Gemini API key from GPG encrypted file")
		return key, nil
	}

	log.Error().Err(err).Msg("Failed to retrieve Gemini API key")
	return "", ErrNoAPIKey
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG(ctx context.Context) (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}

	// A passphrase file next to the credentials allows non-interactive use,
	// but only when it is owner-only.
	passphrasePath := filepath.Join(filepath.Dir(credPath), ".gpg-passphrase")
	if fi, statErr := os.Stat(passphrasePath); statErr == nil {
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphraseFile", passphrasePath).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		} else {
			args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
		}
	}

	args = append(args, credPath)
	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}
