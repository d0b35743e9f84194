// Package main provides a CLI tool to encrypt plaintext credential token files.
//
// Every <id>.token.json under the credentials directory that is still plaintext
// is rewritten sealed with AES-256-GCM. Files that are already sealed are left
// alone, so the tool can be re-run safely.
//
// Usage:
//
//	encrypt-tokens [--dry-run] [--dir DIR] [--credential ID]
//
// Environment Variables:
//
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
//	YT_CREDENTIALS_DIR: default for --dir (falls back to $DATA_DIR/credentials)
//
// Example:
//
//	export ENCRYPTION_KEY="$(openssl rand -base64 32)"
//	./encrypt-tokens --dry-run
//	./encrypt-tokens
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/onnwee/livewatch/crypto"
	"github.com/onnwee/livewatch/youtubeapi"
)

const tokenSuffix = ".token.json"

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be encrypted without making changes")
	dir := flag.String("dir", defaultDir(), "Directory holding <id>.token.json files")
	only := flag.String("credential", "", "Encrypt a single credential set only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		slog.Error("ENCRYPTION_KEY environment variable is required")
		os.Exit(1)
	}
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("error", err))
		os.Exit(1)
	}

	if _, err := encryptTokens(*dir, enc, *dryRun, *only); err != nil {
		slog.Error("encryption failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("encryption completed successfully")
}

func defaultDir() string {
	if d := os.Getenv("YT_CREDENTIALS_DIR"); d != "" {
		return d
	}
	data := os.Getenv("DATA_DIR")
	if data == "" {
		data = "data"
	}
	return filepath.Join(data, "credentials")
}

// encryptTokens seals every plaintext token file in dir and returns how many
// were (or, with dryRun, would be) encrypted.
func encryptTokens(dir string, enc crypto.Encryptor, dryRun bool, only string) (int, error) {
	ids, err := plaintextTokens(dir, only)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		slog.Info("no plaintext tokens found to encrypt", slog.String("dir", dir))
		return 0, nil
	}
	slog.Info("found plaintext tokens to encrypt", slog.Int("count", len(ids)), slog.Bool("dry_run", dryRun))

	plain := &youtubeapi.FileTokenStore{Dir: dir}
	sealed := &youtubeapi.FileTokenStore{Dir: dir, Enc: enc}
	migrated, failed := 0, 0
	for i, id := range ids {
		logger := slog.With(slog.String("credential", id), slog.Int("index", i+1), slog.Int("total", len(ids)))
		tok, err := plain.Load(id)
		if err != nil {
			logger.Error("failed to read token", slog.Any("error", err))
			failed++
			continue
		}
		if dryRun {
			logger.Info("would encrypt token (dry-run)")
			migrated++
			continue
		}
		if err := sealed.Save(id, tok); err != nil {
			logger.Error("failed to encrypt token", slog.Any("error", err))
			failed++
			continue
		}
		// Read back through the sealed store before counting it.
		if _, err := sealed.Load(id); err != nil {
			logger.Error("encrypted token does not read back", slog.Any("error", err))
			failed++
			continue
		}
		logger.Info("encrypted token")
		migrated++
	}

	slog.Info("encryption summary",
		slog.Int("total", len(ids)),
		slog.Int("encrypted", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return migrated, fmt.Errorf("encryption completed with %d errors", failed)
	}
	return migrated, nil
}

// plaintextTokens lists credential ids whose token file is not sealed yet.
func plaintextTokens(dir, only string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read credentials dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, tokenSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, tokenSuffix)
		if only != "" && id != only {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if crypto.IsSealed(data) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if only != "" && len(ids) == 0 {
		if _, err := os.Stat(filepath.Join(dir, only+tokenSuffix)); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("credential %q: %w", only, youtubeapi.ErrNoToken)
		}
	}
	return ids, nil
}
