package storage

// DiskGeometry is the CHS geometry of a raw drive, used to compute its total
// size when the platform can't report it directly (e.g. BLKGETSIZE64 isn't
// available). Callers of Open pass a zero DiskGeometry when opening a
// regular file image; it's only consulted for raw block devices.
type DiskGeometry struct {
	Cylinders       uint
	Heads           uint
	SectorsPerTrack uint
	BytesPerSector  uint
}

// TotalSizeBytes returns the capacity implied by the geometry, or 0 if the
// geometry is the zero value.
func (g DiskGeometry) TotalSizeBytes() int64 {
	return int64(g.Cylinders) * int64(g.Heads) * int64(g.SectorsPerTrack) * int64(g.BytesPerSector)
}
