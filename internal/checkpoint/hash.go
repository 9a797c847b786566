package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
)

// hashFile returns the hex sha256 of a file's contents. Creation and
// verification both go through here.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// hashFiles hashes every existing regular file in paths. Missing files and
// anything that is not a regular file (directories, sockets) are omitted.
func hashFiles(paths []string) (map[string]string, error) {
	hashes := make(map[string]string, len(paths))
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && !fi.Mode().IsRegular() {
			continue
		}
		sum, err := hashFile(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to hash critical file %s: %w", p, err)
		}
		hashes[p] = sum
	}
	return hashes, nil
}

// compareHashes re-hashes every recorded file and reports the ones that are
// gone or changed, sorted by path.
func compareHashes(recorded map[string]string) []Discrepancy {
	paths := make([]string, 0, len(recorded))
	for p := range recorded {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []Discrepancy
	for _, p := range paths {
		want := recorded[p]
		got, err := hashFile(p)
		switch {
		case os.IsNotExist(err):
			out = append(out, Discrepancy{Path: p, Kind: Missing, Expected: want})
		case err != nil:
			out = append(out, Discrepancy{Path: p, Kind: HashMismatch, Expected: want, Actual: "unreadable: " + err.Error()})
		case got != want:
			out = append(out, Discrepancy{Path: p, Kind: HashMismatch, Expected: want, Actual: got})
		}
	}
	return out
}
