// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flasher

import (
	"fmt"
	"sort"

	"github.com/Thermoquad/cinder/pkg/esprom"
)

// Region is one contiguous firmware image destined for a flash offset.
type Region struct {
	// Offset is the flash address the image is written to. Must be
	// aligned to the flash sector size.
	Offset uint32

	// Data is the image content. Must be non-empty.
	Data []byte

	// Name is an optional label used in progress and log output. The
	// firmware file name, usually.
	Name string
}

// ImageSet is an ordered collection of regions making up one firmware
// version. Regions are written in the order given.
type ImageSet struct {
	regions []Region
}

// NewImageSet validates the regions and bundles them for flashing. All
// validation failures are ProviderErrors: they happen before any device
// I/O and are never retried.
func NewImageSet(regions ...Region) (*ImageSet, error) {
	if len(regions) == 0 {
		return nil, &ProviderError{Region: -1, Err: fmt.Errorf("no regions to write")}
	}

	for i, r := range regions {
		if len(r.Data) == 0 {
			return nil, &ProviderError{Region: i, Err: fmt.Errorf("region has no data")}
		}
		if r.Offset%esprom.FlashSectorSize != 0 {
			return nil, &ProviderError{
				Region: i,
				Err:    fmt.Errorf("offset 0x%X is not aligned to the 0x%X flash sector size", r.Offset, esprom.FlashSectorSize),
			}
		}
	}

	// Overlap check on a sorted copy; write order stays as given.
	byOffset := make([]Region, len(regions))
	copy(byOffset, regions)
	sort.Slice(byOffset, func(i, j int) bool { return byOffset[i].Offset < byOffset[j].Offset })
	for i := 1; i < len(byOffset); i++ {
		prev := byOffset[i-1]
		end := uint64(prev.Offset) + uint64(len(prev.Data))
		if uint64(byOffset[i].Offset) < end {
			return nil, &ProviderError{
				Region: -1,
				Err: fmt.Errorf("region at 0x%X overlaps region at 0x%X (which ends at 0x%X)",
					byOffset[i].Offset, prev.Offset, end),
			}
		}
	}

	s := &ImageSet{regions: make([]Region, len(regions))}
	copy(s.regions, regions)
	return s, nil
}

// Regions returns the regions in write order.
func (s *ImageSet) Regions() []Region {
	return s.regions
}

// Count returns the number of regions.
func (s *ImageSet) Count() int {
	return len(s.regions)
}

// TotalBytes returns the summed image size across all regions.
func (s *ImageSet) TotalBytes() int {
	total := 0
	for _, r := range s.regions {
		total += len(r.Data)
	}
	return total
}
