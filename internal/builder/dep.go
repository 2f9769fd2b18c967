package builder

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/appack-build/appack/internal/msg"
	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
)

var depShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var errIllegalDep = errors.New("empty or illegal dependency string")

// fetchDependency resolves one [dependencies] source string into a
// directory: a git URL (with optional shortcut prefix) is cloned into
// toWhere, an archive URL is downloaded and extracted there, and a plain
// path is used in place.
func fetchDependency(dep string, toWhere string) (string, error) {
	if dep == "" {
		return "", errIllegalDep
	}

	// `git:` prefix, e.g. git:https://github.com/someone/pulsekit.git
	if strings.HasPrefix(dep, gitPrefix) {
		return cloneGitRepo(dep[len(gitPrefix):], toWhere)
	}

	// shortcut prefix, e.g. gh:someone/pulsekit
	for shortcut, url := range depShortcuts {
		if strings.HasPrefix(dep, shortcut) {
			return cloneGitRepo(url+dep[len(shortcut):], toWhere)
		}
	}

	// a bare URL should point at an archive
	if isURL(dep) {
		return downloadAndExtractArchive(dep, toWhere)
	}

	// otherwise it's a path
	return dep, nil
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	parts = strings.SplitN(baseURL, "@", 2)
	res.cleanURL = parts[0]
	if len(parts) == 2 {
		res.branch = parts[1]
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// cloneGitRepo clones a Git remote into the specified directory
func cloneGitRepo(url, toWhere string) (string, error) {
	parsedURL := parseGitURL(url)

	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          os.Stdout,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // we can do a shallow clone of the latest commit
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainClone(toWhere, cloneOptions)
	if err != nil {
		return toWhere, err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repo.Worktree()
		if err != nil {
			return toWhere, fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return toWhere, fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return toWhere, fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return toWhere, nil
}

// downloadAndExtractArchive fetches a .zip or .tar.gz archive and unpacks
// it into toWhere, stripping a single top-level directory if the archive
// has one (the shape of GitHub release tarballs).
func downloadAndExtractArchive(url, toWhere string) (string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading %s: unexpected status %s", url, resp.Status)
	}

	msg.Info("downloading %s", url)
	pb := msg.NewProgressBar(resp.ContentLength, 2, os.Stdout)
	body := io.TeeReader(resp.Body, pb)

	switch {
	case strings.HasSuffix(url, ".zip"):
		err = extractZip(body, toWhere)
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		err = extractTarGz(body, toWhere)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", url)
	}
	pb.Finish()
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", url, err)
	}

	return stripSingleRoot(toWhere)
}

// safeJoin joins an archive member name onto dir, rejecting traversal.
func safeJoin(dir, name string) (string, error) {
	cleaned := path.Clean(name)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("archive member escapes destination: %s", name)
	}
	return filepath.Join(dir, filepath.FromSlash(cleaned)), nil
}

func extractZip(r io.Reader, toWhere string) error {
	// zip needs random access, so spool to a temp file first
	tmp, err := os.CreateTemp("", "appack-archive-*.zip")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return err
	}

	for _, f := range zr.File {
		dst, err := safeJoin(toWhere, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeExtracted(dst, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func extractTarGz(r io.Reader, toWhere string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		dst, err := safeJoin(toWhere, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
				return err
			}
			if err := writeExtracted(dst, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// symlinks and the rest have no business in a source archive
			msg.Warn("skipping archive member %s (unsupported type)", hdr.Name)
		}
	}
}

func writeExtracted(dst string, r io.Reader, mode os.FileMode) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// stripSingleRoot descends into dir when extraction produced exactly one
// top-level directory, so dependency paths look the same for archives and
// clones.
func stripSingleRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		return filepath.Join(dir, entries[0].Name()), nil
	}
	return dir, nil
}
