package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/abhisheknishant138/rotor/internal/journal"
	"github.com/abhisheknishant138/rotor/internal/model"
	"github.com/abhisheknishant138/rotor/internal/reactor"
	"github.com/abhisheknishant138/rotor/internal/unit"
)

// Sentinel errors for the synchronous half of the API. Faults inside launch
// and stop tasks are logged and absorbed instead of surfacing here.
var (
	ErrDuplicateName = errors.New("deployment name already in use")
	ErrUnknownName   = errors.New("no deployment with that name")
)

// instanceRecord pairs a started unit with the context that started it.
// Records exist only for instances whose start succeeded.
type instanceRecord struct {
	info model.InstanceInfo
	unit unit.Unit
}

// deployment is the registry entry for one live deployment.
type deployment struct {
	meta    model.Metadata
	records []instanceRecord
	gen     int
}

// status builds a non-aliasing snapshot of the entry. Caller holds the
// manager lock.
func (d *deployment) status() model.DeploymentStatus {
	infos := make([]model.InstanceInfo, 0, len(d.records))
	for _, rec := range d.records {
		infos = append(infos, rec.info)
	}
	return model.DeploymentStatus{Metadata: d.meta, Instances: infos}
}

// Stats is the live half of the stats surface.
type Stats struct {
	Deployments int `json:"deployments"`
	Instances   int `json:"instances"`
}

// Manager owns the deployment registry and drives launches and teardowns
// through the reactor. All registration, lookup, and removal is serialized
// under one mutex; everything else is fire-and-schedule, so no manager call
// ever blocks waiting for instance work.
type Manager struct {
	exec    reactor.Executor
	units   *unit.Registry
	journal journal.Journal
	broker  *EventBroker
	logger  *slog.Logger

	mu          sync.Mutex
	deployments map[string]*deployment
}

// NewManager creates a manager. All collaborators are required.
func NewManager(exec reactor.Executor, units *unit.Registry, j journal.Journal, logger *slog.Logger) *Manager {
	return &Manager{
		exec:        exec,
		units:       units,
		journal:     j,
		broker:      NewEventBroker(),
		logger:      logger,
		deployments: make(map[string]*deployment),
	}
}

// Broker returns the manager's event broker for SSE subscription.
func (m *Manager) Broker() *EventBroker {
	return m.broker
}

// emit publishes a lifecycle event and appends it to the journal. Journal
// failures are logged and never fail the lifecycle operation.
func (m *Manager) emit(name, typ, detail string) {
	ev := model.Event{
		ID:         model.NewID(),
		Deployment: name,
		Type:       typ,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}
	m.broker.Publish(name, ev)
	if err := m.journal.Append(context.Background(), ev); err != nil {
		m.logger.Error("failed to journal event", "deployment", name, "type", typ, "error", err)
	}
}

// Deploy validates the spec, atomically reserves the name, and schedules
// one launch task per requested instance. It returns before any instance
// work runs: the caller learns about launch progress only through
// onAllStarted and the event stream. onAllStarted fires exactly once, after
// exactly Instances launches have finished, whether they succeeded or not;
// with zero instances it fires synchronously inside Deploy.
func (m *Manager) Deploy(spec model.DeploymentSpec, onAllStarted func()) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid deployment spec: %w", err)
	}

	meta := model.Metadata{
		Name:          spec.Name,
		Kind:          spec.Kind,
		ModuleRef:     spec.ModuleRef,
		ResourceScope: append([]string(nil), spec.ResourceScope...),
		Instances:     spec.Instances,
		Worker:        spec.Worker,
		CreatedAt:     time.Now().UTC(),
	}

	m.mu.Lock()
	if _, ok := m.deployments[spec.Name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, spec.Name)
	}
	gen := m.broker.Open(spec.Name)
	m.deployments[spec.Name] = &deployment{meta: meta, gen: gen}
	m.mu.Unlock()

	activeDeployments.Inc()
	m.emit(spec.Name, model.EventDeploy,
		fmt.Sprintf("%d instance(s) of %s %q", spec.Instances, spec.Kind, spec.ModuleRef))

	started := NewCompletion(spec.Instances, func() {
		m.emit(spec.Name, model.EventDeployed, fmt.Sprintf("%d launches finished", spec.Instances))
		if onAllStarted != nil {
			onAllStarted()
		}
	})

	for i := 0; i < spec.Instances; i++ {
		task := m.launchTask(spec, started)
		if spec.Worker {
			m.exec.RunOnWorker(task)
		} else {
			m.exec.RunOnLoop(task)
		}
	}
	return nil
}

// launchTask builds the task run once per requested instance. The task owns
// the whole construct, start, register sequence for that instance.
func (m *Manager) launchTask(spec model.DeploymentSpec, started *Completion) reactor.Task {
	return func(ctxID model.ContextID) {
		m.runLaunch(spec, ctxID, started)
	}
}

// runLaunch performs one instance launch on its context. A fault at any
// step is a launch failure: logged, the whole deployment torn down without
// waiting for that teardown, and the join still signaled so one failing
// instance never starves the caller's completion.
func (m *Manager) runLaunch(spec model.DeploymentSpec, ctxID model.ContextID, started *Completion) {
	u, err := m.constructAndStart(spec)
	if err != nil {
		m.logger.Error("instance launch failed",
			"deployment", spec.Name, "kind", spec.Kind, "context", ctxID, "error", err)
		launchesTotal.WithLabelValues(spec.Kind, resultFailed).Inc()
		m.emit(spec.Name, model.EventInstanceFailed, err.Error())
		m.teardown(spec.Name, nil)
		m.exec.Release(ctxID)
		started.Signal()
		return
	}

	rec := instanceRecord{
		info: model.InstanceInfo{ID: model.NewID(), Context: ctxID, StartedAt: time.Now().UTC()},
		unit: u,
	}
	if !m.addInstance(spec.Name, rec) {
		// A failing sibling tore the deployment down while this start was in
		// flight. Stop the orphan here, on the context that started it.
		m.logger.Warn("deployment gone before instance registered, stopping orphan",
			"deployment", spec.Name, "instance", rec.info.ID, "context", ctxID)
		if err := rec.unit.Stop(); err != nil {
			m.logger.Error("orphan instance stop failed",
				"deployment", spec.Name, "instance", rec.info.ID, "error", err)
			stopsTotal.WithLabelValues(resultFailed).Inc()
		} else {
			stopsTotal.WithLabelValues(resultOK).Inc()
		}
		m.exec.Release(ctxID)
		started.Signal()
		return
	}

	launchesTotal.WithLabelValues(spec.Kind, resultOK).Inc()
	activeInstances.Inc()
	m.emit(spec.Name, model.EventInstanceStarted,
		fmt.Sprintf("instance %s on context %d", rec.info.ID, ctxID))
	started.Signal()
}

// constructAndStart resolves the factory, constructs the instance, and
// starts it. Each step's fault is a launch failure.
func (m *Manager) constructAndStart(spec model.DeploymentSpec) (unit.Unit, error) {
	f, err := m.units.Resolve(spec.Kind)
	if err != nil {
		return nil, err
	}

	u, err := f.Construct(spec.ModuleRef, spec.ResourceScope)
	if err != nil {
		return nil, fmt.Errorf("construct: %w", err)
	}

	begin := time.Now()
	err = u.Start()
	startDuration.Observe(time.Since(begin).Seconds())
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	return u, nil
}

// addInstance appends a record under the registry lock. It reports false if
// the deployment no longer exists, which happens when a failing sibling
// launch purged the name while this start was in flight.
func (m *Manager) addInstance(name string, rec instanceRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[name]
	if !ok {
		return false
	}
	d.records = append(d.records, rec)
	return true
}

// Undeploy initiates teardown of a named deployment. An unknown name is
// reported as a value with no side effects. A nil error means teardown is
// under way; onAllStopped fires exactly once when every instance stop has
// finished, synchronously if there are no instances.
func (m *Manager) Undeploy(name string, onAllStopped func()) error {
	return m.teardown(name, onAllStopped)
}

// teardown stops every registered instance of a deployment and purges the
// entry. The entry is removed at initiation, before any stop completes, so
// the name is reusable while old instances are still winding down. Each
// stop is pinned to the context that ran the matching start; that context
// is released only after its stop returns.
func (m *Manager) teardown(name string, onAllStopped func()) error {
	m.mu.Lock()
	d, ok := m.deployments[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	delete(m.deployments, name)
	records := d.records
	gen := d.gen
	m.mu.Unlock()

	activeDeployments.Dec()
	m.emit(name, model.EventUndeploy, fmt.Sprintf("%d instance(s) to stop", len(records)))

	stopped := NewCompletion(len(records), func() {
		m.emit(name, model.EventUndeployed, "")
		m.broker.Close(name, gen)
		if onAllStopped != nil {
			onAllStopped()
		}
	})

	for _, rec := range records {
		rec := rec
		err := m.exec.RunOn(rec.info.Context, func(model.ContextID) {
			m.stopInstance(name, rec, stopped)
		})
		if err != nil {
			// The context is already gone. Count the arrival anyway so the
			// join cannot starve.
			m.logger.Error("cannot pin stop to context",
				"deployment", name, "instance", rec.info.ID, "context", rec.info.Context, "error", err)
			stopsTotal.WithLabelValues(resultFailed).Inc()
			activeInstances.Dec()
			stopped.Signal()
		}
	}
	return nil
}

// stopInstance runs one pinned stop. A stop fault is logged and absorbed;
// the join is signaled and the context released regardless.
func (m *Manager) stopInstance(name string, rec instanceRecord, stopped *Completion) {
	if err := rec.unit.Stop(); err != nil {
		m.logger.Error("instance stop failed",
			"deployment", name, "instance", rec.info.ID, "error", err)
		stopsTotal.WithLabelValues(resultFailed).Inc()
	} else {
		stopsTotal.WithLabelValues(resultOK).Inc()
	}
	activeInstances.Dec()
	m.emit(name, model.EventInstanceStopped, fmt.Sprintf("instance %s", rec.info.ID))
	m.exec.Release(rec.info.Context)
	stopped.Signal()
}

// UndeployAll tears down every current deployment. The name set is
// snapshotted under the lock before any teardown initiates, so the
// iteration never observes its own mutations. With nothing deployed the
// callback fires synchronously.
func (m *Manager) UndeployAll(onAllStopped func()) {
	m.mu.Lock()
	names := make([]string, 0, len(m.deployments))
	for name := range m.deployments {
		names = append(names, name)
	}
	m.mu.Unlock()

	all := NewCompletion(len(names), onAllStopped)
	for _, name := range names {
		if err := m.teardown(name, all.Signal); err != nil {
			// A concurrent undeploy won the race for this name; its arrival
			// still counts.
			all.Signal()
		}
	}
}

// ListInstances returns a fresh snapshot mapping deployment name to live
// instance count. The snapshot never aliases registry storage.
func (m *Manager) ListInstances() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.deployments))
	for name, d := range m.deployments {
		out[name] = len(d.records)
	}
	return out
}

// List returns a snapshot of every deployment, sorted by name.
func (m *Manager) List() []model.DeploymentStatus {
	m.mu.Lock()
	out := make([]model.DeploymentStatus, 0, len(m.deployments))
	for _, d := range m.deployments {
		out = append(out, d.status())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.Name < out[j].Metadata.Name
	})
	return out
}

// Get returns the snapshot of one deployment.
func (m *Manager) Get(name string) (model.DeploymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deployments[name]
	if !ok {
		return model.DeploymentStatus{}, fmt.Errorf("%w: %s", ErrUnknownName, name)
	}
	return d.status(), nil
}

// LiveStats reports the current deployment and instance counts.
func (m *Manager) LiveStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Deployments: len(m.deployments)}
	for _, d := range m.deployments {
		s.Instances += len(d.records)
	}
	return s
}
