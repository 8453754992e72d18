// media_image.go - Boot and disk image handling
//
// (c) 2025-2026 ikeji - GPLv3 or later

package main

import (
	"fmt"
	"os"
)

// DISK_SECTOR_SIZE is the hosted system's sector granularity; the
// built-in image is stamped per sector.
const DISK_SECTOR_SIZE = 512

// LoadBootImage reads a boot image file into the bottom of the store.
// Returns the number of bytes loaded.
func LoadBootImage(space *AddressSpace, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("load boot image: %w", err)
	}
	if len(data) > int(space.Size()) {
		return 0, fmt.Errorf("boot image size (%d) is larger than RAM size (%d)", len(data), space.Size())
	}
	space.Load(0, data)
	return len(data), nil
}

// LoadDiskImage reads the disk image the disk device serves. An empty
// path falls back to the built-in image so the hosted session works
// without external files.
func LoadDiskImage(path string) ([]byte, error) {
	if path == "" {
		return BuiltinDiskImage(64 * 1024), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load disk image: %w", err)
	}
	return data, nil
}

// BuiltinDiskImage builds a pattern image of the given size: each
// sector opens with its own number so reads are verifiable, the rest
// encodes the byte offset.
func BuiltinDiskImage(size int) []byte {
	img := make([]byte, size)
	for i := range img {
		if i%DISK_SECTOR_SIZE < 2 {
			sector := uint16(i / DISK_SECTOR_SIZE)
			if i%DISK_SECTOR_SIZE == 0 {
				img[i] = byte(sector)
			} else {
				img[i] = byte(sector >> 8)
			}
			continue
		}
		img[i] = byte(i ^ i>>8)
	}
	return img
}
