package procmetrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Option configures Register.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	caps    *Capabilities
	paths   ProbePaths
	sampler *Sampler
	rates   *RateComputer
}

// WithLogger sets the logger used for capability decisions and read failures.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCapabilities skips probing and uses caps as is.
func WithCapabilities(caps Capabilities) Option {
	return func(o *options) {
		o.caps = &caps
	}
}

// WithProbePaths overrides the locations probed at startup.
func WithProbePaths(paths ProbePaths) Option {
	return func(o *options) {
		o.paths = paths
	}
}

// WithSampler replaces the OS sampler.
func WithSampler(s *Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithRateComputer supplies the RateComputer holding the previous snapshot.
func WithRateComputer(r *RateComputer) Option {
	return func(o *options) {
		o.rates = r
	}
}

// Registration holds the callbacks attached by Register.
type Registration struct {
	Capabilities Capabilities

	regs []metric.Registration
}

// Unregister detaches every callback. Instruments stay declared but stop
// reporting.
func (r *Registration) Unregister() error {
	var err error
	for _, reg := range r.regs {
		err = multierr.Append(err, reg.Unregister())
	}
	r.regs = nil
	return err
}

var (
	userState   = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrState, stateUser)))
	systemState = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrState, stateSystem)))

	voluntarySwitch   = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrType, switchVoluntary)))
	involuntarySwitch = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrType, switchInvoluntary)))

	minorFault = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrType, faultMinor)))
	majorFault = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrType, faultMajor)))

	readDirection  = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrDirection, directionRead)))
	writeDirection = metric.WithAttributeSet(attribute.NewSet(attribute.String(attrDirection, directionWrite)))
)

// Register declares the process instruments on meter and attaches their
// callbacks. Capabilities are probed before anything is declared, and the
// optional instruments are only declared when their facility is usable.
//
// Register must be called at most once per process. A second call declares
// duplicate instruments and a second RateComputer.
func Register(meter metric.Meter, opts ...Option) (*Registration, error) {
	o := options{paths: DefaultProbePaths()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	var caps Capabilities
	if o.caps != nil {
		caps = *o.caps
	} else {
		caps = ProbeCapabilities(o.paths)
	}
	if o.sampler == nil {
		o.sampler = NewSampler(caps, o.logger)
	}
	if o.rates == nil {
		o.rates = NewRateComputer(LogicalCPUCount())
	}
	o.logger.Info("process capabilities probed",
		zap.Bool("open_fds", caps.OpenFDs),
		zap.Bool("proc_status", caps.ProcStatus),
		zap.Int("cpus", o.rates.CPUCount()),
	)

	reg := &Registration{Capabilities: caps}

	if err := registerUsage(meter, o.sampler, o.rates, reg); err != nil {
		return nil, multierr.Append(err, reg.Unregister())
	}
	if err := registerMemory(meter, o.sampler, caps, reg); err != nil {
		return nil, multierr.Append(err, reg.Unregister())
	}
	if caps.OpenFDs {
		if err := registerOpenFDs(meter, o.sampler, reg); err != nil {
			return nil, multierr.Append(err, reg.Unregister())
		}
	} else {
		o.logger.Info("open descriptor listing unavailable, skipping instrument",
			zap.String("instrument", OpenFileDescriptors.Name),
			zap.String("path", caps.Paths.FDDir),
		)
	}

	return reg, nil
}

// registerUsage attaches the batch callback. Every value it reports comes
// from a single Sample call so correlated counters never skew.
func registerUsage(meter metric.Meter, s *Sampler, rates *RateComputer, reg *Registration) error {
	cpuTime, err := declare(meter, CPUTime)
	if err != nil {
		return err
	}
	cpuUtil, err := declare(meter, CPUUtilization)
	if err != nil {
		return err
	}
	switches, err := declare(meter, ContextSwitches)
	if err != nil {
		return err
	}
	faults, err := declare(meter, PagingFaults)
	if err != nil {
		return err
	}
	diskIO, err := declare(meter, DiskIO)
	if err != nil {
		return err
	}

	r, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := s.Sample()
		cpu := rates.Observe(snap)

		o.ObserveFloat64(cpuTime, cpu.UserTime, userState)
		o.ObserveFloat64(cpuTime, cpu.SystemTime, systemState)
		o.ObserveFloat64(cpuUtil, cpu.UserUtilization, userState)
		o.ObserveFloat64(cpuUtil, cpu.SystemUtilization, systemState)

		o.ObserveFloat64(switches, snap.VoluntaryCtxSwitches, voluntarySwitch)
		o.ObserveFloat64(switches, snap.InvoluntaryCtxSwitches, involuntarySwitch)

		o.ObserveFloat64(faults, snap.MinorFaults, minorFault)
		o.ObserveFloat64(faults, snap.MajorFaults, majorFault)

		o.ObserveFloat64(diskIO, snap.BlocksRead*diskBlockSize, readDirection)
		o.ObserveFloat64(diskIO, snap.BlocksWritten*diskBlockSize, writeDirection)
		return nil
	}, cpuTime, cpuUtil, switches, faults, diskIO)
	if err != nil {
		return fmt.Errorf("failed to register resource usage callback: %w", err)
	}
	reg.regs = append(reg.regs, r)
	return nil
}

func registerMemory(meter metric.Meter, s *Sampler, caps Capabilities, reg *Registration) error {
	usage, err := declare(meter, MemoryResident)
	if err != nil {
		return err
	}
	instruments := []metric.Observable{usage}

	var virtual metric.Float64Observable
	if caps.ProcStatus {
		virtual, err = declare(meter, MemoryVirtual)
		if err != nil {
			return err
		}
		instruments = append(instruments, virtual)
	}

	r, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		mem := s.Memory()
		o.ObserveFloat64(usage, mem.Resident)
		if virtual != nil {
			o.ObserveFloat64(virtual, mem.Virtual)
		}
		return nil
	}, instruments...)
	if err != nil {
		return fmt.Errorf("failed to register memory callback: %w", err)
	}
	reg.regs = append(reg.regs, r)
	return nil
}

func registerOpenFDs(meter metric.Meter, s *Sampler, reg *Registration) error {
	fds, err := declare(meter, OpenFileDescriptors)
	if err != nil {
		return err
	}
	r, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(fds, s.OpenFDs())
		return nil
	}, fds)
	if err != nil {
		return fmt.Errorf("failed to register open descriptors callback: %w", err)
	}
	reg.regs = append(reg.regs, r)
	return nil
}

// declare creates the asynchronous float64 instrument matching d.Kind.
func declare(meter metric.Meter, d InstrumentDescriptor) (metric.Float64Observable, error) {
	var (
		inst metric.Float64Observable
		err  error
	)
	switch d.Kind {
	case KindCounter:
		inst, err = meter.Float64ObservableCounter(d.Name,
			metric.WithUnit(d.Unit), metric.WithDescription(d.Description))
	case KindUpDownCounter:
		inst, err = meter.Float64ObservableUpDownCounter(d.Name,
			metric.WithUnit(d.Unit), metric.WithDescription(d.Description))
	case KindGauge:
		inst, err = meter.Float64ObservableGauge(d.Name,
			metric.WithUnit(d.Unit), metric.WithDescription(d.Description))
	default:
		return nil, fmt.Errorf("unknown instrument kind %d for %s", d.Kind, d.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", d.Kind, d.Name, err)
	}
	return inst, nil
}
