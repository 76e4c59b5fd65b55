package warptile

import (
	"golang.org/x/sys/cpu"
)

// CPUFeatures tracks the instruction set extensions relevant to the blocked
// micro-kernel selection.
type CPUFeatures struct {
	HasAVX     bool
	HasAVX2    bool
	HasAVX512F bool
	HasFMA     bool
	HasNEON    bool
}

var cpuFeatures CPUFeatures

func init() {
	cpuFeatures = CPUFeatures{
		HasAVX:     cpu.X86.HasAVX,
		HasAVX2:    cpu.X86.HasAVX2,
		HasAVX512F: cpu.X86.HasAVX512F,
		HasFMA:     cpu.X86.HasFMA,
		HasNEON:    cpu.ARM64.HasASIMD,
	}
}

// HasWideFMA reports whether the CPU supports a wide fused-multiply-add path,
// selecting the deeper-unrolled micro-kernel.
func HasWideFMA() bool {
	return (cpuFeatures.HasAVX2 && cpuFeatures.HasFMA) || cpuFeatures.HasAVX512F || cpuFeatures.HasNEON
}

// Features returns the detected feature set.
func Features() CPUFeatures { return cpuFeatures }
