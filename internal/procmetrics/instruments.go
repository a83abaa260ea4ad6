// Package procmetrics reports resource usage of the current process through
// the OpenTelemetry metric API.
//
// Instruments are declared once by Register. Values are pulled by the meter
// provider's reader, which invokes the registered callbacks on its own
// schedule; nothing in this package runs a timer of its own.
package procmetrics

// Kind is the instrument kind an InstrumentDescriptor declares.
type Kind int

const (
	// KindCounter is a monotonic cumulative counter.
	KindCounter Kind = iota
	// KindUpDownCounter is a cumulative value that may go down.
	KindUpDownCounter
	// KindGauge is an instantaneous, non-cumulative value.
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindUpDownCounter:
		return "up-down-counter"
	case KindGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// InstrumentDescriptor names and types a single process instrument.
type InstrumentDescriptor struct {
	Name        string
	Kind        Kind
	Unit        string
	Description string
}

// Process instruments.
var (
	CPUTime = InstrumentDescriptor{
		Name:        "process.cpu.time",
		Kind:        KindCounter,
		Unit:        "s",
		Description: "Total CPU seconds broken down by different states",
	}
	CPUUtilization = InstrumentDescriptor{
		Name:        "process.cpu.utilization",
		Kind:        KindGauge,
		Unit:        "1",
		Description: "Difference in process.cpu.time since the last measurement, divided by the elapsed time and number of CPUs available to the process",
	}
	ContextSwitches = InstrumentDescriptor{
		Name:        "process.context_switches",
		Kind:        KindCounter,
		Unit:        "{count}",
		Description: "Number of times the process has been context switched",
	}
	PagingFaults = InstrumentDescriptor{
		Name:        "process.paging.faults",
		Kind:        KindCounter,
		Unit:        "{fault}",
		Description: "Number of page faults the process has made",
	}
	DiskIO = InstrumentDescriptor{
		Name:        "process.disk.io",
		Kind:        KindCounter,
		Unit:        "By",
		Description: "Disk bytes transferred",
	}
	OpenFileDescriptors = InstrumentDescriptor{
		Name:        "process.open_file_descriptors",
		Kind:        KindUpDownCounter,
		Unit:        "{count}",
		Description: "Number of file descriptors in use by the process",
	}
	MemoryResident = InstrumentDescriptor{
		Name:        "process.memory.usage",
		Kind:        KindUpDownCounter,
		Unit:        "By",
		Description: "The amount of physical memory in use",
	}
	MemoryVirtual = InstrumentDescriptor{
		Name:        "process.memory.virtual",
		Kind:        KindUpDownCounter,
		Unit:        "By",
		Description: "The amount of committed virtual memory",
	}
)

// diskBlockSize converts filesystem block counts reported by getrusage into bytes.
const diskBlockSize = 512

// Attribute keys and values used by the process instruments.
const (
	attrState     = "state"
	attrType      = "type"
	attrDirection = "direction"

	stateUser   = "user"
	stateSystem = "system"

	switchVoluntary   = "voluntary"
	switchInvoluntary = "involuntary"

	faultMinor = "minor"
	faultMajor = "major"

	directionRead  = "read"
	directionWrite = "write"
)
