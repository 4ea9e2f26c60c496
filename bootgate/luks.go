package bootgate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// VolumeConfig describes an encrypted data volume that may be opened after
// the gate passes.
type VolumeConfig struct {
	DevicePath   string
	MapperName   string
	MapperDevice string
	MountPoint   string
}

// NewVolumeConfig fills in the mapper device path.
func NewVolumeConfig(devicePath, mountPoint, mapperName string) VolumeConfig {
	return VolumeConfig{
		DevicePath:   devicePath,
		MapperName:   mapperName,
		MapperDevice: "/dev/mapper/" + mapperName,
		MountPoint:   mountPoint,
	}
}

// DeriveVolumeKey derives the LUKS passphrase from a host-provided secret and
// the verified volume label. The label binding means a relabeled volume
// cannot be opened even with the right secret.
func DeriveVolumeKey(secret []byte, label string) (string, error) {
	if len(secret) == 0 {
		return "", fmt.Errorf("empty volume secret")
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte(label), []byte("tdx-attest-volume-key"))
	if _, err := io.ReadFull(r, key); err != nil {
		return "", fmt.Errorf("deriving volume key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// IsLUKS checks whether the device carries a LUKS header.
func IsLUKS(cfg VolumeConfig) bool {
	return exec.Command("cryptsetup", "isLuks", cfg.DevicePath).Run() == nil
}

// OpenAndMount opens an existing LUKS container and mounts it. The boot gate
// never formats: at boot time an unformatted volume is a verification
// failure, not a provisioning opportunity.
func OpenAndMount(cfg VolumeConfig, passphrase string) error {
	cmd := exec.Command("cryptsetup", "open", cfg.DevicePath, cfg.MapperName)
	cmd.Stdin = strings.NewReader(passphrase)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("could not open LUKS device: %w", err)
	}

	os.MkdirAll(cfg.MountPoint, 0o755)
	if err := exec.Command("mount", cfg.MapperDevice, cfg.MountPoint).Run(); err != nil {
		exec.Command("cryptsetup", "close", cfg.MapperName).Run()
		return fmt.Errorf("could not mount filesystem: %w", err)
	}
	return nil
}

// CleanupMount unmounts and closes the encrypted volume.
func CleanupMount(cfg VolumeConfig) {
	exec.Command("umount", cfg.MountPoint).Run()
	exec.Command("cryptsetup", "close", cfg.MapperName).Run()
}
