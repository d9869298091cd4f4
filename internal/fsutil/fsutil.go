package fsutil

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// frameExts are still-image formats the frame decoder can read.
var frameExts = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// videoExts are container formats handed to ffmpeg.
var videoExts = map[string]struct{}{
	".mp4":  {},
	".m4v":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
	".mts":  {},
	".m2ts": {},
	".3gp":  {},
}

// ListFrames returns the frame images directly inside dir, sorted by name.
// Subdirectories are not descended into.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if IsFrameFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ListVideos returns all video containers under root.
func ListVideos(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsVideoFile(path) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// FirstExisting returns the first path that exists.
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// IsFrameFile checks if a file is a decodable still image.
func IsFrameFile(path string) bool {
	_, ok := frameExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// IsVideoFile checks if a file is a supported video container.
func IsVideoFile(path string) bool {
	_, ok := videoExts[strings.ToLower(filepath.Ext(path))]
	return ok
}
