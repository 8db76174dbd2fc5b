// Package hardware detects the host's CPU microarchitecture class and
// GPU vendor/API class, and selects the best available native library
// variant for it (spec §4.4). Detection and variant-path layout are
// grounded on this repo's resource-monitoring idiom (gopsutil-backed
// host stats, seen in the mcp-zero rpc-layer server package); the
// priority/fallback table itself is new per §4.4.
package hardware

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUClass is the fixed enum of microarchitecture classes from §4.4.
type CPUClass string

const (
	GenericX64      CPUClass = "GenericX64"
	AmdZen1         CPUClass = "AmdZen1"
	AmdZen2         CPUClass = "AmdZen2"
	AmdZen3         CPUClass = "AmdZen3"
	AmdZen4         CPUClass = "AmdZen4"
	IntelHaswell    CPUClass = "IntelHaswell"
	IntelBroadwell  CPUClass = "IntelBroadwell"
	IntelSkylake    CPUClass = "IntelSkylake"
	IntelIcelake    CPUClass = "IntelIcelake"
	IntelRocketlake CPUClass = "IntelRocketlake"
	IntelAlderlake  CPUClass = "IntelAlderlake"
	AppleSilicon    CPUClass = "AppleSilicon"
	Arm64Generic    CPUClass = "Arm64Generic"
)

// GPUClass is the fixed enum of GPU vendor/API classes from §4.4.
type GPUClass string

const (
	Nvidia       GPUClass = "Nvidia"
	AmdRocm      GPUClass = "AmdRocm"
	IntelOpenCl  GPUClass = "IntelOpenCl"
	VulkanGeneric GPUClass = "VulkanGeneric"
	AppleMetal   GPUClass = "AppleMetal"
	NoGPU        GPUClass = "None"
)

// Profile is the detected hardware shape of the host.
type Profile struct {
	CPU CPUClass
	GPU GPUClass
}

// Detect builds a Profile for the current host. GPU detection here is
// deliberately conservative: without a vendor SDK present it reports
// NoGPU rather than guessing, since a wrong guess would send
// select_variant down a path whose library is absent anyway and the
// fallback chain handles that case regardless.
func Detect() (Profile, error) {
	cpuClass, err := detectCPUClass()
	if err != nil {
		return Profile{}, err
	}
	return Profile{CPU: cpuClass, GPU: detectGPUClass()}, nil
}

func detectCPUClass() (CPUClass, error) {
	if runtime.GOARCH == "arm64" {
		if runtime.GOOS == "darwin" {
			return AppleSilicon, nil
		}
		return Arm64Generic, nil
	}

	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return GenericX64, nil
	}

	vendor := strings.ToLower(infos[0].VendorID)
	model := strings.ToLower(infos[0].ModelName)
	family := infos[0].Family

	switch {
	case strings.Contains(vendor, "amd"):
		switch {
		case strings.Contains(model, "zen4") || family == "25":
			return AmdZen4, nil
		case strings.Contains(model, "zen3"):
			return AmdZen3, nil
		case strings.Contains(model, "zen2"):
			return AmdZen2, nil
		case strings.Contains(model, "zen"):
			return AmdZen1, nil
		}
	case strings.Contains(vendor, "intel"):
		switch {
		case strings.Contains(model, "alder lake"):
			return IntelAlderlake, nil
		case strings.Contains(model, "rocket lake"):
			return IntelRocketlake, nil
		case strings.Contains(model, "ice lake"):
			return IntelIcelake, nil
		case strings.Contains(model, "skylake"):
			return IntelSkylake, nil
		case strings.Contains(model, "broadwell"):
			return IntelBroadwell, nil
		case strings.Contains(model, "haswell"):
			return IntelHaswell, nil
		}
	}
	return GenericX64, nil
}

func detectGPUClass() GPUClass {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return AppleMetal
	}
	if _, err := os.Stat("/dev/nvidia0"); err == nil {
		return Nvidia
	}
	if _, err := os.Stat("/dev/kfd"); err == nil {
		return AmdRocm
	}
	return NoGPU
}

// VariantPath is a filesystem path to a native library variant, laid
// out per §6 ("<dist_root>/cpu/<os>/<variant>/libnative.{so|dylib|dll}"
// and "<dist_root>/gpu/<os>/<variant>/...").
type VariantPath string

type candidate struct {
	kind string // "gpu" or "cpu"
	name string
}

// SelectVariant applies the priority order from §4.4 — BitNet GPU >
// Standard GPU > BitNet CPU (microarch-matched) > Standard CPU —
// stepping down the chain until a library file is found on disk.
// Deterministic: the same Profile and distRoot always yield the same
// result or the same error.
func SelectVariant(distRoot string, p Profile) (VariantPath, error) {
	candidates := buildCandidates(p)
	for _, c := range candidates {
		path := libraryPath(distRoot, c)
		if _, err := os.Stat(path); err == nil {
			return VariantPath(path), nil
		}
	}
	return "", fmt.Errorf("no native library variant found under %s for cpu=%s gpu=%s", distRoot, p.CPU, p.GPU)
}

func buildCandidates(p Profile) []candidate {
	var out []candidate
	if p.GPU != NoGPU {
		out = append(out, candidate{"gpu", "bitnet-" + string(p.GPU)})
		out = append(out, candidate{"gpu", "standard-" + string(p.GPU)})
	}
	out = append(out, candidate{"cpu", "bitnet-" + string(p.CPU)})
	out = append(out, candidate{"cpu", "standard"})
	return out
}

func libraryPath(distRoot string, c candidate) string {
	libName := "libnative.so"
	switch runtime.GOOS {
	case "darwin":
		libName = "libnative.dylib"
	case "windows":
		libName = "libnative.dll"
	}
	return filepath.Join(distRoot, c.kind, runtime.GOOS, c.name, libName)
}
