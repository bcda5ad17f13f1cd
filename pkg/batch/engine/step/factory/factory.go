// Package factory builds chunk steps from the named step configurations.
//
// Readers, processors, writers and listeners are referenced by name in the
// configuration. Their builders are registered with the StepFactory by the
// packages that implement them, usually from an Fx module.
package factory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	database "github.com/tigerroll/chunkflow/pkg/batch/adapter/database"
	port "github.com/tigerroll/chunkflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkflow/pkg/batch/core/domain/repository"
	model "github.com/tigerroll/chunkflow/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkflow/pkg/batch/core/metrics"
	tx "github.com/tigerroll/chunkflow/pkg/batch/core/tx"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/classify"
	itemstep "github.com/tigerroll/chunkflow/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/partition"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/recovery"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkflow/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/chunkflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

const module = "step_factory"

// DefaultPartitioner is used when a partitioned step names no partitioner.
const DefaultPartitioner = "simplePartitioner"

// Names of the rules appended when honor_error_flags is set.
const (
	RetryableFlagRule = "retryable-flag"
	SkippableFlagRule = "skippable-flag"
)

// ComponentBuilder builds a reader, processor or writer from the properties of a ComponentRef.
// A reader must implement port.ItemReader[any], a processor port.ItemProcessor[any, any]
// and a writer port.ItemWriter[any].
type ComponentBuilder func(
	cfg *config.Config,
	dbResolver database.DBConnectionResolver,
	properties map[string]interface{},
) (interface{}, error)

// ListenerBuilder builds a listener for the named step. The result is registered under
// every listener interface it implements.
type ListenerBuilder func(cfg *config.Config, stepName string) (interface{}, error)

// TransactionManagerFactory creates the transaction manager of a named connection.
type TransactionManagerFactory interface {
	NewTransactionManager(dbName string) tx.TransactionManager
}

// StepFactory converts step configurations into executable chunk steps.
type StepFactory struct {
	config         *config.Config
	stepRepository repository.StepRepository
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	dbResolver     database.DBConnectionResolver
	txFactory      TransactionManagerFactory
	userData       port.PersistentUserDataRecorder

	mu                sync.RWMutex
	componentBuilders map[string]ComponentBuilder
	listenerBuilders  map[string]ListenerBuilder
}

// NewStepFactory creates a StepFactory. recorder and tracer may be nil.
func NewStepFactory(
	cfg *config.Config,
	stepRepository repository.StepRepository,
	recorder metrics.MetricRecorder,
	tracer metrics.Tracer,
) *StepFactory {
	return &StepFactory{
		config:            cfg,
		stepRepository:    stepRepository,
		metricRecorder:    recorder,
		tracer:            tracer,
		componentBuilders: make(map[string]ComponentBuilder),
		listenerBuilders:  make(map[string]ListenerBuilder),
	}
}

// WithDBResolver sets the resolver handed to component builders.
func (f *StepFactory) WithDBResolver(r database.DBConnectionResolver) *StepFactory {
	f.dbResolver = r
	return f
}

// WithTransactionManagerFactory makes chunks of a "sql" checkpoint store run in a
// transaction on the checkpoint database, so checkpoints commit with the written items.
func (f *StepFactory) WithTransactionManagerFactory(tf TransactionManagerFactory) *StepFactory {
	f.txFactory = tf
	return f
}

// WithPersistentUserDataRecorder sets the recorder every built step reports committed item ids to.
func (f *StepFactory) WithPersistentUserDataRecorder(r port.PersistentUserDataRecorder) *StepFactory {
	f.userData = r
	return f
}

// RegisterComponentBuilder registers a reader, processor or writer builder under name.
func (f *StepFactory) RegisterComponentBuilder(name string, builder ComponentBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.componentBuilders[name] = builder
	logger.Debugf("Component builder '%s' registered.", name)
}

// RegisterListenerBuilder registers a listener builder under name.
func (f *StepFactory) RegisterListenerBuilder(name string, builder ListenerBuilder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listenerBuilders[name] = builder
	logger.Debugf("Listener builder '%s' registered.", name)
}

// ComponentNames returns the registered component builder names in sorted order.
func (f *StepFactory) ComponentNames() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.componentBuilders))
	for name := range f.componentBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateSteps builds every configured step, in name order.
func (f *StepFactory) CreateSteps() ([]port.Step, error) {
	names := f.config.StepNames()
	steps := make([]port.Step, 0, len(names))
	for _, name := range names {
		s, err := f.Build(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// Build builds the named step. A step with a partition grid of two or more becomes a
// PartitionStep whose workers are chunk steps; every other step is a ChunkStep.
func (f *StepFactory) Build(name string) (port.Step, error) {
	rs, ok := f.config.Step(name)
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s' is not configured", name)
	}
	var (
		step port.Step
		err  error
	)
	if rs.Partition.GridSize < 2 {
		step, err = f.createChunkStep(rs)
	} else {
		step, err = f.createPartitionStep(rs)
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

// CreateStep builds the named step as a single ChunkStep, ignoring any partition settings.
func (f *StepFactory) CreateStep(name string) (*itemstep.ChunkStep[any, any], error) {
	rs, ok := f.config.Step(name)
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s' is not configured", name)
	}
	return f.createChunkStep(rs)
}

func (f *StepFactory) createPartitionStep(rs config.ResolvedStep) (*partition.PartitionStep, error) {
	ref := rs.Partition.Partitioner
	if ref.Ref == "" {
		ref.Ref = DefaultPartitioner
	}
	c, err := f.build(rs.Name, "partitioner", ref)
	if err != nil {
		return nil, err
	}
	partitioner, ok := c.(port.Partitioner)
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s': component '%s' (%T) is not a Partitioner", rs.Name, ref.Ref, c)
	}
	listeners, err := f.buildListeners(rs)
	if err != nil {
		return nil, err
	}
	opts := []partition.Option{partition.WithMaxConcurrency(rs.MaxConcurrency)}
	for _, l := range listeners {
		if sl, ok := l.(port.StepExecutionListener); ok {
			opts = append(opts, partition.WithListeners(sl))
		}
	}
	if f.stepRepository != nil {
		opts = append(opts, partition.WithStepRepository(f.stepRepository))
	}

	newWorker := func(workerName string, ec model.ExecutionContext) (port.Step, error) {
		wrs := rs
		wrs.Name = workerName
		props := make(map[string]interface{}, len(rs.Reader.Properties)+len(ec))
		for k, v := range rs.Reader.Properties {
			props[k] = v
		}
		for k, v := range ec {
			props[k] = v
		}
		wrs.Reader = config.ComponentRef{Ref: rs.Reader.Ref, Properties: props}
		w, err := f.createChunkStep(wrs)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	logger.Debugf("Partition step '%s' built (grid size %d, partitioner '%s').", rs.Name, rs.Partition.GridSize, ref.Ref)
	return partition.NewPartitionStep(rs.Name, partitioner, rs.Partition.GridSize, newWorker, opts...), nil
}

func (f *StepFactory) createChunkStep(rs config.ResolvedStep) (*itemstep.ChunkStep[any, any], error) {
	name := rs.Name
	reader, err := f.buildReader(rs)
	if err != nil {
		return nil, err
	}
	processor, err := f.buildProcessor(rs)
	if err != nil {
		return nil, err
	}
	writer, err := f.buildWriter(rs)
	if err != nil {
		return nil, err
	}
	listeners, err := f.buildListeners(rs)
	if err != nil {
		return nil, err
	}
	mode, err := recovery.ParseMode(rs.FailurePointMode)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("step '%s'", name), err, false, false)
	}

	opts := []itemstep.Option[any, any]{
		itemstep.WithCommitInterval[any, any](rs.CommitInterval),
		itemstep.WithChunkTimeout[any, any](rs.ChunkTimeout),
		itemstep.WithFailurePointMode[any, any](mode),
		itemstep.WithNoRollbackOnWrite[any, any](rs.NoRollbackOnWrite),
		itemstep.WithSkipPolicy[any, any](SkipPolicy(rs)),
		itemstep.WithRetryPolicy[any, any](RetryPolicy(rs)),
		itemstep.WithMetrics[any, any](f.metricRecorder, f.tracer),
		itemstep.WithListeners[any, any](listeners...),
	}
	if f.stepRepository != nil {
		opts = append(opts,
			itemstep.WithStepRepository[any, any](f.stepRepository),
			itemstep.WithCheckpointRepository[any, any](f.stepRepository),
		)
	}
	if tm := f.transactionManager(); tm != nil {
		opts = append(opts, itemstep.WithTransactionManager[any, any](tm, nil))
	}
	if f.userData != nil {
		opts = append(opts, itemstep.WithPersistentUserDataRecorder[any, any](f.userData))
	}

	logger.Debugf("Chunk step '%s' built (commit interval %d, %d retry rules, %d skip rules).",
		name, rs.CommitInterval, len(rs.RetryableExceptionRules), len(rs.SkippableExceptionRules))
	return itemstep.NewChunkStep[any, any](name, reader, processor, writer, opts...), nil
}

// SkipPolicy builds the skip rules of rs in configuration order.
func SkipPolicy(rs config.ResolvedStep) *skip.Policy {
	rules := buildRules(rs.SkippableExceptionRules)
	if rs.HonorErrorFlags {
		rules = append(rules, classify.NewRule(SkippableFlagRule, classify.SkippableFlag(), classify.Unlimited))
	}
	return skip.NewPolicy(rules...)
}

// RetryPolicy builds the retry rules and backoff of rs.
func RetryPolicy(rs config.ResolvedStep) *retry.Policy {
	rules := buildRules(rs.RetryableExceptionRules)
	if rs.HonorErrorFlags {
		rules = append(rules, classify.NewRule(RetryableFlagRule, classify.RetryableFlag(), classify.Unlimited))
	}
	b := rs.RetryBackoff
	return retry.NewPolicy(rules...).WithBackoff(
		time.Duration(b.InitialIntervalMillis)*time.Millisecond,
		time.Duration(b.MaxIntervalMillis)*time.Millisecond,
		b.Multiplier,
	)
}

func buildRules(cfgs []config.RuleConfig) []*classify.Rule {
	rules := make([]*classify.Rule, 0, len(cfgs))
	for _, rc := range cfgs {
		rules = append(rules, classify.NewRule(rc.Name, classify.ByName(rc.Matches()), rc.Limit))
	}
	return rules
}

func (f *StepFactory) transactionManager() tx.TransactionManager {
	cp := f.config.Chunkflow.Checkpoint
	if f.txFactory == nil || cp.Store != config.CheckpointStoreSQL {
		return nil
	}
	return f.txFactory.NewTransactionManager(cp.DatabaseRef)
}

func (f *StepFactory) build(stepName, role string, ref config.ComponentRef) (interface{}, error) {
	f.mu.RLock()
	builder, ok := f.componentBuilders[ref.Ref]
	f.mu.RUnlock()
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s': %s '%s' is not registered", stepName, role, ref.Ref)
	}
	c, err := builder(f.config, f.dbResolver, ref.Properties)
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("step '%s': failed to build %s '%s'", stepName, role, ref.Ref), err, false, false)
	}
	return c, nil
}

func (f *StepFactory) buildReader(rs config.ResolvedStep) (port.ItemReader[any], error) {
	c, err := f.build(rs.Name, "reader", rs.Reader)
	if err != nil {
		return nil, err
	}
	r, ok := c.(port.ItemReader[any])
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s': component '%s' (%T) is not an ItemReader", rs.Name, rs.Reader.Ref, c)
	}
	return r, nil
}

// buildProcessor returns nil when no processor is configured; the step then passes items through.
func (f *StepFactory) buildProcessor(rs config.ResolvedStep) (port.ItemProcessor[any, any], error) {
	if rs.Processor.Ref == "" {
		return nil, nil
	}
	c, err := f.build(rs.Name, "processor", rs.Processor)
	if err != nil {
		return nil, err
	}
	p, ok := c.(port.ItemProcessor[any, any])
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s': component '%s' (%T) is not an ItemProcessor", rs.Name, rs.Processor.Ref, c)
	}
	return p, nil
}

func (f *StepFactory) buildWriter(rs config.ResolvedStep) (port.ItemWriter[any], error) {
	c, err := f.build(rs.Name, "writer", rs.Writer)
	if err != nil {
		return nil, err
	}
	w, ok := c.(port.ItemWriter[any])
	if !ok {
		return nil, exception.NewBatchErrorf(module, "step '%s': component '%s' (%T) is not an ItemWriter", rs.Name, rs.Writer.Ref, c)
	}
	return w, nil
}

func (f *StepFactory) buildListeners(rs config.ResolvedStep) ([]interface{}, error) {
	listeners := make([]interface{}, 0, len(rs.Listeners))
	for _, name := range rs.Listeners {
		f.mu.RLock()
		builder, ok := f.listenerBuilders[name]
		f.mu.RUnlock()
		if !ok {
			return nil, exception.NewBatchErrorf(module, "step '%s': listener '%s' is not registered", rs.Name, name)
		}
		l, err := builder(f.config, rs.Name)
		if err != nil {
			return nil, exception.NewBatchError(module, fmt.Sprintf("step '%s': failed to build listener '%s'", rs.Name, name), err, false, false)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}
