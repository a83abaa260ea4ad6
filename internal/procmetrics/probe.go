package procmetrics

// AccessMode is a bit set of access checks, using the access(2) encoding.
type AccessMode uint32

const (
	AccessExists  AccessMode = 0
	AccessExecute AccessMode = 1
	AccessWrite   AccessMode = 2
	AccessRead    AccessMode = 4
)

// IsAccessible reports whether path can be accessed with mode. Any failure,
// including an unsupported platform, yields false.
func IsAccessible(path string, mode AccessMode) bool {
	if path == "" {
		return false
	}
	return access(path, mode) == nil
}

// ProbePaths locates the optional OS facilities checked at startup.
type ProbePaths struct {
	// FDDir lists the open descriptors of the process, one entry per descriptor.
	FDDir string
	// StatusFile is the line-oriented key/value status record of the process.
	StatusFile string
}

// DefaultProbePaths returns the procfs locations for the current process.
func DefaultProbePaths() ProbePaths {
	return ProbePaths{
		FDDir:      "/proc/self/fd",
		StatusFile: "/proc/self/status",
	}
}

// Capabilities records which optional facilities were usable at startup.
// It is computed once and never refreshed.
type Capabilities struct {
	Paths ProbePaths

	// OpenFDs is true when the descriptor directory can be listed.
	OpenFDs bool
	// ProcStatus is true when the status record can be read.
	ProcStatus bool
}

// ProbeCapabilities runs every capability check once.
func ProbeCapabilities(paths ProbePaths) Capabilities {
	return Capabilities{
		Paths:      paths,
		OpenFDs:    IsAccessible(paths.FDDir, AccessRead|AccessExecute),
		ProcStatus: IsAccessible(paths.StatusFile, AccessRead),
	}
}
