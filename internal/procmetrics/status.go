package procmetrics

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Keys of the status record holding resident set size and committed
// virtual memory.
const (
	statusKeyResident = "VmRSS"
	statusKeyVirtual  = "VmSize"
)

func readStatusFile(path string) (MemoryUsage, error) {
	f, err := os.Open(path)
	if err != nil {
		return MemoryUsage{}, err
	}
	defer f.Close()
	return parseStatus(f)
}

// parseStatus extracts memory figures from a "Key:\tvalue unit" record.
// Unknown keys are skipped and a missing or malformed key leaves its field NaN.
func parseStatus(r io.Reader) (MemoryUsage, error) {
	mem := MemoryUsage{Resident: math.NaN(), Virtual: math.NaN()}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case statusKeyResident:
			mem.Resident = parseStatusBytes(value)
		case statusKeyVirtual:
			mem.Virtual = parseStatusBytes(value)
		}
	}
	if err := sc.Err(); err != nil {
		return MemoryUsage{Resident: math.NaN(), Virtual: math.NaN()}, err
	}
	return mem, nil
}

func parseStatusBytes(value string) float64 {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return math.NaN()
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return math.NaN()
	}
	if len(fields) == 1 {
		return n
	}
	switch strings.ToLower(fields[1]) {
	case "b":
		return n
	case "kb":
		return n * 1024
	case "mb":
		return n * 1024 * 1024
	case "gb":
		return n * 1024 * 1024 * 1024
	default:
		return math.NaN()
	}
}
