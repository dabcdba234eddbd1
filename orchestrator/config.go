package orchestrator

import (
	"sort"
	"time"

	"github.com/cvsouth/bwscan/relay"
)

// BandwidthFile describes one payload file the orchestrator's HTTP
// downloads may request: a name relative to the payload server's base
// URL, and the expected content hash used for optional integrity
// verification.
type BandwidthFile struct {
	Name string
	Hash string
}

// DefaultBandwidthFiles returns the standard payload table, keyed by file
// size in KiB, carried forward from the reference scanner's own bw_files
// table.
func DefaultBandwidthFiles() map[int64]BandwidthFile {
	return map[int64]BandwidthFile{
		2 * 1024:  {Name: "2M", Hash: "9793cc92932598898d22497acdd5d732037b1a13"},
		4 * 1024:  {Name: "4M", Hash: "94f7bc6679a4419b080debd70166c2e43e80533d"},
		8 * 1024:  {Name: "8M", Hash: "c690229b300945ec4ba872b80e8c443e2e1750f0"},
		16 * 1024: {Name: "16M", Hash: "e91690ed2abf05e347b61aafaa23abf2a2b3292f"},
		32 * 1024: {Name: "32M", Hash: "a536076ef51c2cfff607fec2d362671e031d6b48"},
		64 * 1024: {Name: "64M", Hash: "913b3c5df256d62235f955fa936e7a4e2d5e0cb6"},
	}
}

// Config holds the orchestrator's tunable parameters; see §4.F.
type Config struct {
	Partitions         int
	ThisPartition      int
	SliceWidth         int
	RequestTimeout     time.Duration
	CircuitLaunchDelay time.Duration
	RequestLimit       int
	ScanContinuous     bool

	DataDir             string
	BaseURL             string
	BandwidthFiles      map[int64]BandwidthFile
	CircuitBuildTimeout time.Duration
}

// ChooseFileSize picks the smallest configured file size (in KiB) such
// that 5 times the path's mean consensus bandwidth is below it; if no
// entry is large enough, the largest available file is used.
func ChooseFileSize(path []relay.Relay, files map[int64]BandwidthFile) int64 {
	if len(path) == 0 || len(files) == 0 {
		return 0
	}

	var sum int64
	for _, r := range path {
		sum += r.Bandwidth
	}
	avgBW := sum / int64(len(path))

	sizes := make([]int64, 0, len(files))
	for size := range files {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	for _, size := range sizes {
		if 5*avgBW < size {
			return size
		}
	}
	return sizes[len(sizes)-1]
}

// ChooseURL builds the download URL for path, given baseURL and the
// configured file table.
func ChooseURL(baseURL string, path []relay.Relay, files map[int64]BandwidthFile) string {
	size := ChooseFileSize(path, files)
	return baseURL + "/" + files[size].Name
}
