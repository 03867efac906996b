package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ent0n29/lexclaim/internal/apiclient"
)

// DirSaver writes documents into a directory. A file appears either complete
// or not at all.
type DirSaver struct {
	Dir string
}

func (s DirSaver) Save(_ context.Context, issueID string, doc apiclient.Document) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc.Data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close document: %w", err)
	}

	dest := filepath.Join(s.Dir, FileName(issueID, doc.FileName))
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move document into place: %w", err)
	}
	return dest, nil
}

// FileName picks the server-suggested name, else "<issueID>.docx". Path
// components are stripped.
func FileName(issueID, suggested string) string {
	name := filepath.Base(strings.TrimSpace(strings.ReplaceAll(suggested, "\\", "/")))
	switch name {
	case "", ".", "..", "/":
		name = ""
	}
	if name == "" {
		name = sanitize(issueID) + ".docx"
	}
	return name
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "document"
	}
	return s
}
