package slam

import (
	"fmt"
	"io"
	"os"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

// pcdVersion is written to the VERSION header of exported clouds
const pcdVersion = 0.7

// OccupiedPointCloud converts the committed cells of a grid to a point
// cloud with x, y, z in millimetres at the cell centres and the number of
// committed hits in the label field
func OccupiedPointCloud(grid *MemoryGrid, minLogOdds float64) (*pc.PointCloud, error) {
	cells := grid.OccupiedCells(minLogOdds)
	n := len(cells)
	pp := &pc.PointCloud{
		PointCloudHeader: pc.PointCloudHeader{
			Version: pcdVersion,
			Fields:  []string{"x", "y", "z", "label"},
			Size:    []int{4, 4, 4, 4},
			Type:    []string{"F", "F", "F", "U"},
			Count:   []int{1, 1, 1, 1},
			Width:   n,
			Height:  1,
		},
		Points: n,
	}
	pp.Data = make([]byte, n*pp.Stride())
	if n == 0 {
		return pp, nil
	}

	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	lt, err := pp.Uint32Iterator("label")
	if err != nil {
		return nil, err
	}
	dims := grid.Dimensions()
	for _, oc := range cells {
		centre := CellCentre(dims, grid.Centre(), oc.Cell)
		z := (float64(oc.Cell.Z) + 0.5) * dims.CellSizeMM
		it.SetVec3(mat.Vec3{float32(centre.X), float32(centre.Y), float32(z)})
		lt.SetUint32(uint32(oc.Hits))
		it.Incr()
		lt.Incr()
	}
	return pp, nil
}

// ExportPointCloud writes the committed cells of a grid as PCD
func ExportPointCloud(w io.Writer, grid *MemoryGrid, minLogOdds float64) error {
	pp, err := OccupiedPointCloud(grid, minLogOdds)
	if err != nil {
		return fmt.Errorf("building point cloud: %w", err)
	}
	if err := pc.Marshal(pp, w); err != nil {
		return fmt.Errorf("encoding PCD: %w", err)
	}
	return nil
}

// SavePointCloud writes the committed cells of a grid to a PCD file
func SavePointCloud(path string, grid *MemoryGrid, minLogOdds float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := ExportPointCloud(f, grid, minLogOdds); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadPointCloud reads the x, y, z points of a PCD file
func LoadPointCloud(r io.Reader) ([]Point3, error) {
	pp, err := pc.Unmarshal(r)
	if err != nil {
		return nil, fmt.Errorf("decoding PCD: %w", err)
	}
	if pp.Points == 0 {
		return nil, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	out := make([]Point3, 0, pp.Points)
	for ; it.IsValid(); it.Incr() {
		v := it.Vec3()
		out = append(out, Point3{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])})
	}
	return out, nil
}
