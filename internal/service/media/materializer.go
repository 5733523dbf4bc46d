package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vincent-petithory/dataurl"
	"go.uber.org/zap"

	"github.com/mamadbah2/wacrm/internal/domain/models"
)

// ErrMaterializationFailed wraps every decode or write failure.
var ErrMaterializationFailed = errors.New("media materialization failed")

// ErrInvalidConnectionID indicates a connection id that cannot be used as a
// directory name.
var ErrInvalidConnectionID = errors.New("invalid connection id")

var mimeExtensions = map[string]string{
	"image/jpeg":         "jpg",
	"image/png":          "png",
	"image/gif":          "gif",
	"image/webp":         "webp",
	"video/mp4":          "mp4",
	"video/avi":          "avi",
	"video/mov":          "mov",
	"audio/mp3":          "mp3",
	"audio/wav":          "wav",
	"audio/ogg":          "ogg",
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"text/plain": "txt",
}

// ExtensionFor returns the file extension for a MIME type, "bin" when the
// type is not in the table.
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return "bin"
}

// Materializer writes inline webhook media under <root>/<connectionID>/.
type Materializer struct {
	root   string
	logger *zap.Logger
	now    func() time.Time
}

// NewMaterializer builds a materializer rooted at the uploads directory.
func NewMaterializer(root string, logger *zap.Logger) *Materializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{root: root, logger: logger, now: time.Now}
}

// Root returns the uploads directory.
func (m *Materializer) Root() string {
	return m.root
}

// Materialize decodes media and writes it atomically, returning the file path.
// Media without data is ignored.
func (m *Materializer) Materialize(connectionID string, media models.InlineMedia) (string, error) {
	if media.Data == "" {
		return "", nil
	}

	dir, err := m.connectionDir(connectionID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMaterializationFailed, err)
	}

	payload, mimeType, err := decode(media)
	if err != nil {
		m.logger.Error("failed decoding media",
			zap.String("connection_id", connectionID),
			zap.String("mime_type", media.MimeType),
			zap.Error(err))
		return "", fmt.Errorf("%w: decode: %v", ErrMaterializationFailed, err)
	}

	name := safeFilename(media.Filename)
	if name == "" {
		name = fmt.Sprintf("media_%d.%s", m.now().UnixMilli(), ExtensionFor(mimeType))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory: %v", ErrMaterializationFailed, err)
	}

	path := filepath.Join(dir, name)
	if err := writeAtomic(dir, path, payload); err != nil {
		m.logger.Error("failed writing media",
			zap.String("connection_id", connectionID),
			zap.String("path", path),
			zap.Error(err))
		return "", fmt.Errorf("%w: write: %v", ErrMaterializationFailed, err)
	}

	m.logger.Info("media saved",
		zap.String("connection_id", connectionID),
		zap.String("filename", name),
		zap.Int("bytes", len(payload)),
		zap.String("mime_type", mimeType))

	return path, nil
}

// Remove deletes the connection's media directory. Missing directories are
// not an error.
func (m *Materializer) Remove(connectionID string) error {
	dir, err := m.connectionDir(connectionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove media directory %s: %w", dir, err)
	}
	return nil
}

// Sweep deletes files last modified before cutoff and returns how many were
// removed. Empty connection directories are left in place.
func (m *Materializer) Sweep(cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("sweep %s: %w", m.root, err)
	}
	return removed, nil
}

func (m *Materializer) connectionDir(connectionID string) (string, error) {
	id := strings.TrimSpace(connectionID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidConnectionID, connectionID)
	}
	return filepath.Join(m.root, id), nil
}

// decode accepts data URIs and plain standard base64. The data URI media type
// is used when the descriptor carries no MIME type.
func decode(media models.InlineMedia) ([]byte, string, error) {
	mimeType := media.MimeType
	data := strings.TrimSpace(media.Data)

	if strings.HasPrefix(data, "data:") {
		parsed, err := dataurl.DecodeString(data)
		if err != nil {
			return nil, mimeType, err
		}
		if mimeType == "" {
			mimeType = parsed.MediaType.ContentType()
		}
		return parsed.Data, mimeType, nil
	}

	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, mimeType, err
	}
	return payload, mimeType, nil
}

// safeFilename keeps only the final path element so a crafted name cannot
// escape the connection directory.
func safeFilename(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, `\`, "/"))
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

func writeAtomic(dir, path string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, ".media-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
