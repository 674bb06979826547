package acquirer

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/transitbridge-data/internal/common/logger"
	"github.com/transitbridge-data/pkg/gtfs/models"
)

// Acquirer materialises a feed archive on local disk from any of the
// supported origins. Acquisition is never retried; every failure is
// reported as an *models.AcquisitionError and the import attempt ends.
type Acquirer struct {
	client  *http.Client
	destDir string
	logger  logger.Logger
}

func New(destDir string, fetchTimeout time.Duration, logger logger.Logger) *Acquirer {
	return &Acquirer{
		client: &http.Client{
			Timeout: fetchTimeout, // Large feeds may take minutes
		},
		destDir: destDir,
		logger:  logger,
	}
}

// Acquire fetches the archive described by source into the download
// directory and verifies it is a readable zip before returning its path.
// The caller owns the returned file and removes it when done.
func (a *Acquirer) Acquire(ctx context.Context, source models.Source) (string, error) {
	if err := os.MkdirAll(a.destDir, 0755); err != nil {
		return "", &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}

	destPath := filepath.Join(a.destDir, fmt.Sprintf("gtfs_%d.zip", time.Now().UnixNano()))

	var err error
	switch source.Type {
	case models.SourceUpload:
		err = a.acquireUpload(source, destPath)
	case models.SourceURL:
		err = a.acquireURL(ctx, source, destPath)
	case models.SourceFTP:
		err = a.acquireFTP(ctx, source, destPath)
	default:
		err = &models.AcquisitionError{
			Kind:   models.AcquireNoFile,
			Source: source.Origin(),
			Err:    fmt.Errorf("unknown source type %q", source.Type),
		}
	}
	if err != nil {
		return "", err
	}

	if err := verifyArchive(destPath); err != nil {
		os.Remove(destPath)
		return "", &models.AcquisitionError{Kind: models.AcquireInvalidArchive, Source: source.Origin(), Err: err}
	}

	a.logger.Info("Feed archive acquired", "origin", source.Origin(), "path", destPath)
	return destPath, nil
}

func (a *Acquirer) acquireUpload(source models.Source, destPath string) error {
	info, err := os.Stat(source.UploadPath)
	if err != nil || info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is a directory", source.UploadPath)
		}
		return &models.AcquisitionError{Kind: models.AcquireNoFile, Source: source.Origin(), Err: err}
	}

	// Copy rather than rename so the caller-owned upload survives the
	// import's cleanup of the working file.
	in, err := os.Open(source.UploadPath)
	if err != nil {
		return &models.AcquisitionError{Kind: models.AcquireNoFile, Source: source.Origin(), Err: err}
	}
	defer in.Close()

	if err := a.writeFile(destPath, in, info.Size()); err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}
	return nil
}

func (a *Acquirer) acquireURL(ctx context.Context, source models.Source, destPath string) error {
	a.logger.Info("Starting download", "url", source.URL, "dest", destPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
	if err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &models.AcquisitionError{
			Kind:   models.AcquireAuth,
			Source: source.Origin(),
			Err:    fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusNotFound:
		return &models.AcquisitionError{
			Kind:   models.AcquireNoFile,
			Source: source.Origin(),
			Err:    fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return &models.AcquisitionError{
			Kind:   models.AcquireTransport,
			Source: source.Origin(),
			Err:    fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	if err := a.writeFile(destPath, resp.Body, resp.ContentLength); err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}
	return nil
}

func (a *Acquirer) acquireFTP(ctx context.Context, source models.Source, destPath string) error {
	if source.FTP == nil {
		return &models.AcquisitionError{
			Kind:   models.AcquireNoFile,
			Source: source.Origin(),
			Err:    fmt.Errorf("ftp source has no server details"),
		}
	}

	addr := source.FTP.Host
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(30*time.Second))
	if err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}
	defer conn.Quit()

	user := source.FTP.User
	if user == "" {
		user = "anonymous"
	}
	if err := conn.Login(user, source.FTP.Password); err != nil {
		return &models.AcquisitionError{Kind: models.AcquireAuth, Source: source.Origin(), Err: err}
	}

	resp, err := conn.Retr(source.FTP.Path)
	if err != nil {
		kind := models.AcquireTransport
		var proto *textproto.Error
		if errors.As(err, &proto) && proto.Code == ftp.StatusFileUnavailable {
			kind = models.AcquireNoFile
		}
		return &models.AcquisitionError{Kind: kind, Source: source.Origin(), Err: err}
	}
	defer resp.Close()

	if err := a.writeFile(destPath, resp, -1); err != nil {
		return &models.AcquisitionError{Kind: models.AcquireTransport, Source: source.Origin(), Err: err}
	}
	return nil
}

// writeFile streams src into destPath via a temp file plus rename so a
// half-written archive never sits at the final path.
func (a *Acquirer) writeFile(destPath string, src io.Reader, totalSize int64) error {
	tempFile, err := os.CreateTemp(filepath.Dir(destPath), "gtfs_acquire_*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath) // Clean up temp file on any error

	written, err := a.copyWithProgress(tempFile, src, totalSize)
	tempFile.Close()
	if err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("moving file to destination: %w", err)
	}

	a.logger.Debug("Archive written", "dest", destPath, "size_bytes", written)
	return nil
}

func (a *Acquirer) copyWithProgress(dst io.Writer, src io.Reader, totalSize int64) (int64, error) {
	buf := make([]byte, 32*1024) // 32KB buffer
	var written int64
	lastLog := time.Now()

	for {
		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
			written += int64(nw)

			// Log progress every 5 seconds
			if time.Since(lastLog) > 5*time.Second && totalSize > 0 {
				progress := float64(written) / float64(totalSize) * 100
				a.logger.Debug("Download progress",
					"progress_percent", fmt.Sprintf("%.1f", progress),
					"bytes_downloaded", written,
					"total_bytes", totalSize)
				lastLog = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, err
		}
	}

	return written, nil
}

// verifyArchive opens the file as a zip and checks it holds at least one
// entry. A truncated download or a non-zip payload fails here instead of
// surfacing later as an opaque parse error.
func verifyArchive(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if len(r.File) == 0 {
		return fmt.Errorf("archive contains no files")
	}
	return nil
}
