// Package github mirrors knowledge-base documents from a GitHub repository
// directory into the local data directory.
package github

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/go-github/v81/github"

	"github.com/bull/ffi-copilot/internal/extract"
)

// Source identifies a directory inside a repository.
type Source struct {
	Owner string
	Repo  string
	Path  string // directory inside the repository, "" for the root
	Ref   string // branch, tag or commit; "" for the default branch
}

func (s Source) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Owner, s.Repo, s.Path)
}

// RemoteFile is a supported document found in the source directory.
type RemoteFile struct {
	Name string
	Path string // full path inside the repository
	SHA  string // git blob SHA
	Size int
}

// MirrorResult summarizes one Mirror call.
type MirrorResult struct {
	Downloaded []string
	Unchanged  []string
	Failed     []FailedFile
}

// FailedFile is a remote file that could not be mirrored.
type FailedFile struct {
	Name   string
	Reason string
}

// Fetcher handles fetching documents from a GitHub repository directory
type Fetcher struct {
	client *Client
	source Source
	logger *slog.Logger
}

// NewFetcher creates a new document fetcher
func NewFetcher(client *Client, source Source, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client: client,
		source: source,
		logger: logger,
	}
}

func (f *Fetcher) getOptions() *github.RepositoryContentGetOptions {
	if f.source.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.source.Ref}
}

// ListFiles lists the supported documents directly inside the source
// directory, sorted by name. Subdirectories are not descended into because
// the indexer only reads the top level of the data directory.
func (f *Fetcher) ListFiles(ctx context.Context) ([]RemoteFile, error) {
	_, dirContents, _, err := f.client.Repositories.GetContents(
		ctx,
		f.source.Owner,
		f.source.Repo,
		f.source.Path,
		f.getOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %s: %w", f.source, err)
	}

	var files []RemoteFile
	for _, item := range dirContents {
		if item.GetType() != "file" || !extract.Supported(item.GetName()) {
			continue
		}
		files = append(files, RemoteFile{
			Name: item.GetName(),
			Path: item.GetPath(),
			SHA:  item.GetSHA(),
			Size: item.GetSize(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// FetchFile downloads the raw bytes of one file.
func (f *Fetcher) FetchFile(ctx context.Context, file RemoteFile) ([]byte, error) {
	fileContent, _, _, err := f.client.Repositories.GetContents(
		ctx,
		f.source.Owner,
		f.source.Repo,
		file.Path,
		f.getOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get content of %s: %w", file.Path, err)
	}
	if fileContent == nil {
		return nil, fmt.Errorf("no file content returned for %s", file.Path)
	}

	// The contents API inlines files up to 1 MB; larger ones need the raw download.
	if fileContent.GetEncoding() == "none" {
		return f.download(ctx, file.Path)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", file.Path, err)
	}
	return []byte(content), nil
}

func (f *Fetcher) download(ctx context.Context, filePath string) ([]byte, error) {
	rc, _, err := f.client.Repositories.DownloadContents(
		ctx,
		f.source.Owner,
		f.source.Repo,
		filePath,
		f.getOptions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", filePath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return data, nil
}

// Mirror copies every supported file of the source directory into destDir.
// Files whose local git blob SHA already matches the remote one are left
// alone, so re-running only downloads what changed. A failed file is
// recorded and the rest continue.
func (f *Fetcher) Mirror(ctx context.Context, destDir string) (*MirrorResult, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	files, err := f.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Found remote files", "source", f.source.String(), "count", len(files))

	result := &MirrorResult{}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		local := filepath.Join(destDir, file.Name)
		if sha, err := blobSHA(local); err == nil && sha == file.SHA {
			result.Unchanged = append(result.Unchanged, file.Name)
			continue
		}

		data, err := f.FetchFile(ctx, file)
		if err == nil {
			err = writeFileAtomic(local, data)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Failed to mirror file", "name", file.Name, "error", err)
			result.Failed = append(result.Failed, FailedFile{Name: file.Name, Reason: err.Error()})
			continue
		}
		f.logger.Info("Downloaded file", "name", file.Name, "bytes", len(data))
		result.Downloaded = append(result.Downloaded, file.Name)
	}
	return result, nil
}

// GetLatestCommitSHA retrieves the SHA of the most recent commit affecting the source directory
func (f *Fetcher) GetLatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(
		ctx,
		f.source.Owner,
		f.source.Repo,
		&github.CommitsListOptions{
			SHA:  f.source.Ref,
			Path: f.source.Path,
			ListOptions: github.ListOptions{
				PerPage: 1,
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}

	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %s", f.source.Path)
	}

	if commits[0].SHA == nil {
		return "", errors.New("commit SHA is nil")
	}

	return *commits[0].SHA, nil
}

// ParseSource parses "owner/repo[/dir...][@ref]".
func ParseSource(s string) (Source, error) {
	var src Source
	s, src.Ref, _ = strings.Cut(strings.TrimSpace(s), "@")
	parts := strings.SplitN(strings.Trim(s, "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Source{}, fmt.Errorf("invalid source %q: want owner/repo[/path][@ref]", s)
	}
	src.Owner, src.Repo = parts[0], parts[1]
	if len(parts) == 3 {
		src.Path = path.Clean(parts[2])
	}
	return src, nil
}

// blobSHA computes the git blob SHA of a local file.
func blobSHA(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mirror-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
