package input

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/purell"
	"github.com/google/renameio/v2"

	"CommunityArchive/internal/domain"
	"CommunityArchive/internal/infrastructure/archive"
)

const canonicalFlags = purell.FlagsSafe | purell.FlagRemoveDotSegments | purell.FlagRemoveFragment

// ReadFile parses the request list at path.
func ReadFile(path string) ([]domain.SnapshotRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	defer f.Close()

	reqs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", path, err)
	}
	return reqs, nil
}

// Parse reads one "identifier [timestamp]" entry per line. Blank lines and
// lines starting with # are skipped. Archive links are accepted as identifiers
// and carry their own timestamp.
func Parse(r io.Reader) ([]domain.SnapshotRequest, error) {
	var reqs []domain.SnapshotRequest
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		var (
			req domain.SnapshotRequest
			err error
		)
		switch len(fields) {
		case 1:
			req, err = ParseTarget(fields[0])
		case 2:
			req, err = newRequest(fields[0], fields[1])
		default:
			err = fmt.Errorf("expected \"identifier [timestamp]\", got %d fields", len(fields))
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan input: %w", err)
	}
	return reqs, nil
}

// ParseTarget accepts "identifier", "identifier@timestamp" or an archive link.
func ParseTarget(target string) (domain.SnapshotRequest, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return domain.SnapshotRequest{}, fmt.Errorf("empty target")
	}
	if req, ok := archive.ParseSnapshotURL(target); ok && isArchiveLink(target) {
		return newRequest(req.Identifier, req.Timestamp)
	}

	if i := strings.LastIndex(target, "@"); i > 0 {
		ts := target[i+1:]
		if ts == domain.ClosestTimestamp || allDigits(ts) {
			return newRequest(target[:i], ts)
		}
	}
	return newRequest(target, "")
}

func newRequest(identifier, timestamp string) (domain.SnapshotRequest, error) {
	if !domain.ValidRequestTimestamp(timestamp) {
		return domain.SnapshotRequest{}, fmt.Errorf("invalid timestamp %q for %s", timestamp, identifier)
	}
	id, err := Canonical(identifier)
	if err != nil {
		return domain.SnapshotRequest{}, err
	}
	return domain.NewSnapshotRequest(id, timestamp), nil
}

// Canonical normalizes URL identifiers so trivially different spellings share
// one cache entry. Catalog keys are only trimmed.
func Canonical(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", fmt.Errorf("empty identifier")
	}
	lower := strings.ToLower(identifier)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return identifier, nil
	}
	out, err := purell.NormalizeURLString(identifier, canonicalFlags)
	if err != nil {
		return "", fmt.Errorf("invalid identifier %q: %w", identifier, err)
	}
	return out, nil
}

// WriteList renders requests in the format Parse reads.
func WriteList(w io.Writer, reqs []domain.SnapshotRequest) error {
	bw := bufio.NewWriter(w)
	for _, req := range reqs {
		line := req.Identifier
		if !req.Closest() {
			line += " " + req.Timestamp
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile saves the list atomically.
func WriteFile(path string, reqs []domain.SnapshotRequest) error {
	var buf bytes.Buffer
	buf.WriteString("# identifier [timestamp]\n")
	if err := WriteList(&buf, reqs); err != nil {
		return err
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write request list %s: %w", path, err)
	}
	return nil
}

func isArchiveLink(s string) bool {
	return strings.Contains(s, "/web/") || strings.HasPrefix(s, "web/")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
