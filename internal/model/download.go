package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// HFRepo names a HuggingFace model repository a Bundle's artifacts can
// be fetched from when they are not already present on disk, the same
// tree/resolve API the original service used to pull vosk models.
type HFRepo struct {
	Repo        string
	Revision    string
	APIBase     string
	ResolveBase string
}

// DefaultHFRepo targets the same model repository the original service
// fetched Kaldi/vosk artifacts from.
func DefaultHFRepo() HFRepo {
	return HFRepo{
		Repo:        "Nextcloud-AI/vosk-models",
		Revision:    "06f2f156dcd79092400891afb6cf8101e54f6ba2",
		APIBase:     "https://huggingface.co/api/models",
		ResolveBase: "https://huggingface.co",
	}
}

type hfEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ProgressFunc is called before each file download starts, with the
// share of files already fetched as a percentage in [0,99] (100 is
// reserved for "fully verified", which Download never reports on its own).
type ProgressFunc func(percent int)

// Download fetches every file under repo's tree into destDir, a
// per-model analog of the Spec.Path directory, skipping files already
// present with a matching size. A nil onProgress is fine.
func Download(ctx context.Context, repo HFRepo, destDir string, onProgress ProgressFunc) error {
	slog.Info("starting model download", "repo", repo.Repo, "dest", destDir)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("model: create dest dir: %w", err)
	}

	files, err := listAllFiles(ctx, repo, "")
	if err != nil {
		return fmt.Errorf("model: list repo files: %w", err)
	}
	slog.Info("found files to download", "total", len(files))

	var toDownload []hfEntry
	for _, f := range files {
		localPath := filepath.Join(destDir, f.Path)
		if info, err := os.Stat(localPath); err == nil && info.Size() == f.Size {
			continue
		}
		toDownload = append(toDownload, f)
	}

	if len(toDownload) == 0 {
		slog.Info("all model artifacts already downloaded")
		return nil
	}
	slog.Info("downloading model artifacts", "files", len(toDownload), "skipped", len(files)-len(toDownload))

	for i, f := range toDownload {
		if onProgress != nil {
			onProgress(int(float64(i) / float64(len(toDownload)) * 99))
		}
		if err := downloadFile(ctx, repo, destDir, f.Path); err != nil {
			return fmt.Errorf("model: download %s: %w", f.Path, err)
		}
	}

	slog.Info("model artifact download complete", "files", len(toDownload))
	return nil
}

func listAllFiles(ctx context.Context, repo HFRepo, prefix string) ([]hfEntry, error) {
	url := fmt.Sprintf("%s/%s/tree/%s", repo.APIBase, repo.Repo, repo.Revision)
	if prefix != "" {
		url += "/" + prefix
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	var entries []hfEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var files []hfEntry
	for _, e := range entries {
		switch e.Type {
		case "file":
			files = append(files, e)
		case "directory":
			sub, err := listAllFiles(ctx, repo, e.Path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

func downloadFile(ctx context.Context, repo HFRepo, destDir, filePath string) error {
	url := fmt.Sprintf("%s/%s/resolve/%s/%s", repo.ResolveBase, repo.Repo, repo.Revision, filePath)
	localPath := filepath.Join(destDir, filePath)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request %s: %w", url, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	tmpPath := localPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write file: %w", err)
	}
	_ = f.Close()

	if err := os.Rename(tmpPath, localPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
