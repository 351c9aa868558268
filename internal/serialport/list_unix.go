//go:build !windows

package serialport

import "path/filepath"

// ListCandidatePorts returns the device files matching the patterns, in
// pattern order, without duplicates.
func (l Lister) ListCandidatePorts() ([]string, error) {
	var ports []string
	seen := map[string]bool{}
	for _, pattern := range l.Patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				ports = append(ports, m)
			}
		}
	}
	return ports, nil
}
