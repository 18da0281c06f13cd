//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/kilnworks/loom/internal/config"
)

// onnxRuntimeVersion is the onnxruntime release matching the
// onnxruntime_go dependency pinned in go.mod. Bump them together.
const onnxRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates the current OS/arch has no
// onnxruntime release archive.
var ErrUnsupportedPlatform = fmt.Errorf("unsupported platform")

var onnxPlatforms = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

var onnxLibraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

func onnxPlatformArchive(goos, goarch string) (string, error) {
	archMap, ok := onnxPlatforms[goos]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	arch, ok := archMap[goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return arch, nil
}

func onnxLibraryName(goos string) string {
	if name, ok := onnxLibraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

// onnxInstallDir is where loomctl setup places the shared library.
func onnxInstallDir() string {
	return filepath.Join(config.DataDir(), "lib")
}

// ONNXLibraryPath returns the path to the onnxruntime shared library,
// preferring the ONNX_PATH environment variable over the managed
// install. Returns empty when neither exists.
func ONNXLibraryPath() string {
	if envPath := os.Getenv("ONNX_PATH"); envPath != "" {
		return envPath
	}

	managed := filepath.Join(onnxInstallDir(), onnxLibraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// ONNXRuntimeExists reports whether the shared library is installed.
func ONNXRuntimeExists() bool {
	return ONNXLibraryPath() != ""
}

const onnxReleaseURL = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// EnsureONNXRuntime makes sure the onnxruntime shared library is
// installed, downloading the release archive for this platform when it
// is missing. Returns the library path.
func EnsureONNXRuntime(ctx context.Context) (string, error) {
	if path := ONNXLibraryPath(); path != "" {
		return path, nil
	}

	if err := downloadONNXRuntime(ctx, onnxRuntimeVersion, onnxInstallDir()); err != nil {
		return "", fmt.Errorf("downloading onnxruntime: %w", err)
	}

	path := ONNXLibraryPath()
	if path == "" {
		return "", fmt.Errorf("onnxruntime download completed but library not found")
	}
	return path, nil
}

// DownloadONNXRuntime fetches the release archive for this platform
// into the managed install directory, replacing any existing library.
func DownloadONNXRuntime(ctx context.Context) (string, error) {
	if err := downloadONNXRuntime(ctx, onnxRuntimeVersion, onnxInstallDir()); err != nil {
		return "", fmt.Errorf("downloading onnxruntime: %w", err)
	}
	path := filepath.Join(onnxInstallDir(), onnxLibraryName(runtime.GOOS))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("onnxruntime download completed but library not found")
	}
	return path, nil
}

func downloadONNXRuntime(ctx context.Context, version, destDir string) error {
	platform, err := onnxPlatformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	url := fmt.Sprintf(onnxReleaseURL, version, platform, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	return extractONNXLibs(resp.Body, destDir, version, platform)
}

// extractONNXLibs pulls everything under lib/ out of the release
// tarball, preserving symlinks like libonnxruntime.so -> .so.1.23.0.
func extractONNXLibs(r io.Reader, destDir, version, platform string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, version)
	libName := onnxLibraryName(runtime.GOOS)

	var foundLib bool
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}

		filename := filepath.Base(name)
		destPath := filepath.Join(destDir, filename)

		if header.Typeflag == tar.TypeSymlink {
			os.Remove(destPath)
			if err := os.Symlink(header.Linkname, destPath); err != nil {
				continue
			}
			if filename == libName {
				foundLib = true
			}
			continue
		}

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", filename, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("writing file %s: %w", filename, err)
		}
		out.Close()

		if filename == libName || strings.HasPrefix(filename, libName+".") {
			foundLib = true
		}
	}

	if !foundLib {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}
