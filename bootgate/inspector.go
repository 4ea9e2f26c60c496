package bootgate

import (
	"fmt"
	"path/filepath"

	"github.com/jaypipes/ghw/pkg/block"
)

// GHWInspector resolves block devices through sysfs via ghw.
type GHWInspector struct{}

// Locate finds the first device matching the glob and returns its observed
// filesystem identity.
func (GHWInspector) Locate(deviceGlob string) (*BlockDevice, error) {
	devices, err := filepath.Glob(deviceGlob)
	if err != nil {
		return nil, fmt.Errorf("bad device glob %q: %w", deviceGlob, err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no device matches %q", ErrDeviceNotFound, deviceGlob)
	}

	// by-label/by-path globs resolve to symlinks into /dev.
	path, err := filepath.EvalSymlinks(devices[0])
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %v", ErrDeviceNotFound, devices[0], err)
	}

	info, err := block.New()
	if err != nil {
		return nil, fmt.Errorf("inspecting block devices: %w", err)
	}

	name := filepath.Base(path)
	for _, disk := range info.Disks {
		for _, part := range disk.Partitions {
			if part.Name == name {
				return &BlockDevice{
					Path:            path,
					FilesystemType:  part.Type,
					FilesystemLabel: part.FilesystemLabel,
				}, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s is not a known partition", ErrDeviceNotFound, path)
}
