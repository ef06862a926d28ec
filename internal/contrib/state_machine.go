package contrib

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/queue"
	"github.com/clrfund/setup-mpc-ui/internal/transfer"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoActiveTurn      = errors.New("no turn in flight")
)

// Step is a participant's position in the contribution pipeline. Steps move
// strictly forward; the only backward edge is the abort cleanup, which
// re-enters INITIALISED for the next circuit.
type Step int

const (
	StepNotAcknowledged Step = iota
	StepAcknowledged
	StepInitialised
	StepEntropyCollected
	StepWaiting
	StepQueued
	StepRunning
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepNotAcknowledged:
		return "NOT_ACKNOWLEDGED"
	case StepAcknowledged:
		return "ACKNOWLEDGED"
	case StepInitialised:
		return "INITIALISED"
	case StepEntropyCollected:
		return "ENTROPY_COLLECTED"
	case StepWaiting:
		return "WAITING"
	case StepQueued:
		return "QUEUED"
	case StepRunning:
		return "RUNNING"
	case StepComplete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// ComputeStatus carries the sub-status flags of the RUNNING sub-protocol.
// Each flag gates the next step: download, then compute, then upload.
type ComputeStatus struct {
	Ready      bool
	Running    bool
	Downloaded bool
	Computed   bool
	Uploaded   bool
	Progress   Progress
}

// State is one snapshot of a participant's progress. Transitions replace the
// snapshot wholesale; a snapshot handed out by Machine.State is never
// mutated afterwards.
type State struct {
	Step         Step
	Contribution *ceremony.Contribution
	CurrentIndex int
	Status       ComputeStatus
	Hash         string
}

// Machine drives one participant's turns through the contribution pipeline.
// It owns all turn-local data: the entropy buffer, the downloaded parameter
// data and the formatted hash, so nothing from one circuit attempt can leak
// into the next.
//
// The machine is single-threaded and cooperative: download, compute and
// upload are the suspension points, and the compute call runs on its own
// goroutine so progress consumption is not starved.
type Machine struct {
	store     ceremony.Store
	events    ceremony.EventLog
	params    transfer.ParamsStore
	computer  Computer
	listener  queue.Listener
	publisher queue.Publisher
	clock     time2.Clock
	durations DurationObserver

	participant *ceremony.Participant

	// readEntropy fills the entropy buffer; defaults to crypto/rand.
	readEntropy func(b []byte) error

	mu        sync.Mutex
	state     State
	entropy   []byte
	paramData []byte
}

// DurationObserver receives the wall-clock seconds of each completed turn.
// A prometheus histogram satisfies it.
type DurationObserver interface {
	Observe(float64)
}

func NewMachine(
	store ceremony.Store,
	events ceremony.EventLog,
	params transfer.ParamsStore,
	computer Computer,
	listener queue.Listener,
	publisher queue.Publisher,
	clock time2.Clock,
	durations DurationObserver,
	participant *ceremony.Participant,
) *Machine {
	return &Machine{
		store:       store,
		events:      events,
		params:      params,
		computer:    computer,
		listener:    listener,
		publisher:   publisher,
		clock:       clock,
		durations:   durations,
		participant: participant,
		readEntropy: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
		state: State{Step: StepNotAcknowledged},
	}
}

// State returns the current snapshot.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) setState(next State) {
	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
}

func (m *Machine) require(steps ...Step) (State, error) {
	st := m.State()
	for _, s := range steps {
		if st.Step == s {
			return st, nil
		}
	}
	return st, errors.Wrapf(ErrInvalidTransition, "at %s", st.Step)
}

// Acknowledge records the participant's intent to contribute. No side
// effects beyond local state.
func (m *Machine) Acknowledge() error {
	st, err := m.require(StepNotAcknowledged)
	if err != nil {
		return err
	}
	st.Step = StepAcknowledged
	m.setState(st)
	return nil
}

// Initialise enters the pipeline for the next circuit.
func (m *Machine) Initialise() error {
	st, err := m.require(StepAcknowledged, StepInitialised)
	if err != nil {
		return err
	}
	st.Step = StepInitialised
	m.setState(st)
	return nil
}

// CollectEntropy gathers the participant-supplied randomness for the next
// contribution. The buffer lives only in memory and is consumed exactly
// once; it is zeroed on use and on abort.
func (m *Machine) CollectEntropy() error {
	st, err := m.require(StepInitialised)
	if err != nil {
		return err
	}

	buf := make([]byte, EntropySize)
	if err := m.readEntropy(buf); err != nil {
		return errors.Wrap(err, "failed to collect entropy")
	}

	m.mu.Lock()
	m.entropy = buf
	m.mu.Unlock()

	st.Step = StepEntropyCollected
	m.setState(st)
	return nil
}

// Wait parks the machine until a ceremony assignment arrives.
func (m *Machine) Wait() error {
	st, err := m.require(StepEntropyCollected)
	if err != nil {
		return err
	}
	st.Step = StepWaiting
	m.setState(st)
	return nil
}

// EnterQueue takes a turn assignment for the given ceremony. When the
// assigned queueIndex already equals the ceremony's currentIndex there is no
// one to wait for and the machine goes straight to RUNNING; otherwise it
// queues for activation.
func (m *Machine) EnterQueue(ctx context.Context, ceremonyID string) error {
	st, err := m.require(StepEntropyCollected, StepWaiting)
	if err != nil {
		return err
	}

	contribution, err := m.store.JoinQueue(ctx, ceremonyID, m.participant.UID)
	if err != nil {
		return errors.Wrap(err, "failed to join ceremony queue")
	}

	cer, err := m.store.GetCeremony(ctx, ceremonyID)
	if err != nil {
		return errors.Wrap(err, "failed to load ceremony")
	}

	st.Contribution = contribution
	st.CurrentIndex = cer.CurrentIndex
	if contribution.QueueIndex == cer.CurrentIndex {
		// No prior contributor to wait for.
		st.Step = StepRunning
		st.Status = ComputeStatus{Ready: true}
	} else {
		st.Step = StepQueued
		st.Status = ComputeStatus{}
	}
	m.setState(st)

	log.Info().
		Str("ceremony_id", ceremonyID).
		Int("queue_index", contribution.QueueIndex).
		Int("current_index", cer.CurrentIndex).
		Str("step", st.Step.String()).
		Msg("Joined ceremony queue")
	return nil
}

// AwaitTurn blocks a QUEUED machine until its queue position is activated,
// then transitions to RUNNING. Activation arrives at most once; the
// underlying subscription is released before this returns.
func (m *Machine) AwaitTurn(ctx context.Context) error {
	st, err := m.require(StepQueued)
	if err != nil {
		return err
	}

	coordinator := queue.NewCoordinator(m.listener, storeIndexReader{m.store}, st.Contribution.CeremonyID, st.Contribution.QueueIndex)
	if err := coordinator.Await(ctx); err != nil {
		return errors.Wrap(err, "failed waiting for turn")
	}

	st, err = m.require(StepQueued)
	if err != nil {
		return err
	}
	st.Step = StepRunning
	st.CurrentIndex = st.Contribution.QueueIndex
	st.Status = ComputeStatus{Ready: true}
	m.setState(st)
	return nil
}

// RunTurn drives the strict download -> compute -> upload sub-protocol for
// the active turn. Each step is attempted at most once; any failure routes
// to Abort and the circuit is skipped, not retried.
func (m *Machine) RunTurn(ctx context.Context) error {
	st, err := m.require(StepRunning)
	if err != nil {
		return err
	}
	if !st.Status.Ready || st.Status.Running {
		return errors.Wrap(ErrInvalidTransition, "turn is not ready to run")
	}

	// Predecessors may have finished while this participant queued, so the
	// chain head observed at join time can be stale. The turn downloads
	// from the newest COMPLETE contribution, resolved now.
	priorIndex, err := m.store.LastValidIndex(ctx, st.Contribution.CeremonyID)
	if err != nil {
		return m.failTurn(ctx, errors.Wrap(err, "failed to resolve prior contribution"))
	}

	startTime := m.clock.Now()
	started := *st.Contribution
	started.PriorIndex = priorIndex
	started.Status = ceremony.ContributionRunning
	started.StartTime = startTime
	started.LastSeen = startTime
	st.Contribution = &started
	st.Status.Running = true
	m.setState(st)

	if err := m.store.StartContribution(ctx, st.Contribution); err != nil {
		return m.failTurn(ctx, errors.Wrap(err, "failed to record turn start"))
	}
	m.appendEvent(ctx, ceremony.EventStartContribution,
		fmt.Sprintf("Starting turn for index %d", st.Contribution.QueueIndex))

	if err := m.download(ctx); err != nil {
		return m.failTurn(ctx, err)
	}
	if err := m.compute(ctx); err != nil {
		return m.failTurn(ctx, err)
	}
	if err := m.upload(ctx); err != nil {
		return m.failTurn(ctx, err)
	}

	st = m.State()
	log.Info().
		Str("ceremony_id", st.Contribution.CeremonyID).
		Int("queue_index", st.Contribution.QueueIndex).
		Msg("Circuit contribution complete")

	m.endOfCircuit()
	return nil
}

// download fetches the predecessor's output parameter file by priorIndex.
func (m *Machine) download(ctx context.Context) error {
	st := m.State()
	if st.Status.Downloaded {
		return errors.Wrap(ErrInvalidTransition, "params already downloaded")
	}

	data, err := m.params.FetchParams(ctx, st.Contribution.CeremonyID, st.Contribution.PriorIndex)
	if err != nil {
		return errors.Wrap(err, "download failed")
	}

	m.mu.Lock()
	m.paramData = data
	m.mu.Unlock()

	m.appendEvent(ctx, ceremony.EventParamsDownloaded,
		fmt.Sprintf("Parameters from participant %d downloaded OK", st.Contribution.PriorIndex))

	st.Status.Downloaded = true
	m.setState(st)
	return nil
}

// compute invokes the contribution capability off the control goroutine and
// consumes its progress stream. The entropy buffer is discarded afterwards
// regardless of outcome so it can never be reused across attempts.
func (m *Machine) compute(ctx context.Context) error {
	st := m.State()
	if !st.Status.Downloaded || st.Status.Computed {
		return errors.Wrap(ErrInvalidTransition, "compute step out of order")
	}

	m.mu.Lock()
	data := m.paramData
	entropy := m.entropy
	m.mu.Unlock()
	if entropy == nil {
		return errors.New("no entropy collected for this attempt")
	}

	type result struct {
		newParams []byte
		hash      string
		err       error
	}

	progressCh := make(chan Progress, 16)
	resultCh := make(chan result, 1)
	go func() {
		newParams, hash, err := m.computer.Contribute(ctx, data, entropy, progressCh)
		close(progressCh)
		resultCh <- result{newParams, hash, err}
	}()

	for p := range progressCh {
		m.reportProgress(p)
	}
	res := <-resultCh

	// Entropy is single-use: wipe it even when the compute failed.
	m.discardEntropy()

	if res.err != nil {
		return errors.Wrap(res.err, "compute failed")
	}

	m.appendEvent(ctx, ceremony.EventComputeContribution,
		fmt.Sprintf("Contribution for participant %d completed OK", st.Contribution.QueueIndex))

	m.mu.Lock()
	m.paramData = res.newParams
	m.mu.Unlock()

	st = m.State()
	st.Hash = FormatHash(res.hash)
	st.Status.Computed = true
	st.Status.Progress = Progress{}
	m.setState(st)
	return nil
}

// upload persists the new parameters and finalizes the contribution record.
func (m *Machine) upload(ctx context.Context) error {
	st := m.State()
	if !st.Status.Computed || st.Status.Uploaded {
		return errors.Wrap(ErrInvalidTransition, "upload step out of order")
	}

	m.mu.Lock()
	newParams := m.paramData
	m.mu.Unlock()

	fileRef, err := m.params.UploadParams(ctx, st.Contribution.CeremonyID, st.Contribution.QueueIndex, newParams)
	if err != nil {
		return errors.Wrap(err, "upload failed")
	}

	m.appendEvent(ctx, ceremony.EventParamsUploaded,
		fmt.Sprintf("Parameters for participant %d uploaded to %s", st.Contribution.QueueIndex, fileRef))

	duration := m.clock.Now().Sub(st.Contribution.StartTime).Seconds()
	completed := *st.Contribution
	completed.Status = ceremony.ContributionComplete
	completed.Hash = st.Hash
	completed.ParamsFile = fileRef
	completed.Duration = duration

	newIndex, err := m.store.CompleteContribution(ctx, &completed)
	if err != nil {
		return errors.Wrap(err, "failed to finalize contribution")
	}
	if err := m.publisher.PublishIndex(ctx, completed.CeremonyID, newIndex); err != nil {
		log.Warn().Err(err).Str("ceremony_id", completed.CeremonyID).Msg("Failed to publish queue advance")
	}
	if m.durations != nil {
		m.durations.Observe(duration)
	}

	st.Contribution = &completed
	st.CurrentIndex = newIndex
	st.Status.Uploaded = true
	m.setState(st)
	return nil
}

// Abort invalidates the in-flight contribution, appends the audit event with
// the failure reason and performs the same cleanup as normal circuit
// completion. The aborted circuit is skipped, not retried.
func (m *Machine) Abort(ctx context.Context, reason string) error {
	st := m.State()
	if st.Contribution == nil {
		return ErrNoActiveTurn
	}

	newIndex, err := m.store.InvalidateContribution(ctx, st.Contribution.CeremonyID, st.Contribution.ParticipantID)
	switch {
	case errors.Is(err, ceremony.ErrNotRunning):
		// The turn never reached the RUNNING record; nothing to invalidate.
	case err != nil:
		log.Warn().Err(err).Msg("Failed to invalidate contribution on abort")
	default:
		if err := m.publisher.PublishIndex(ctx, st.Contribution.CeremonyID, newIndex); err != nil {
			log.Warn().Err(err).Msg("Failed to publish queue advance after abort")
		}
	}

	m.appendEvent(ctx, ceremony.EventAborted,
		fmt.Sprintf("Error encountered while processing: %s", reason))

	log.Warn().
		Str("ceremony_id", st.Contribution.CeremonyID).
		Int("queue_index", st.Contribution.QueueIndex).
		Str("reason", reason).
		Msg("Circuit aborted")

	m.endOfCircuit()
	return nil
}

// FinishSeries checks whether the participant has contributed to every
// circuit and, if so, marks the run complete.
func (m *Machine) FinishSeries(ctx context.Context) (bool, error) {
	count, err := m.store.CountContributions(ctx, m.participant.UID)
	if err != nil {
		return false, errors.Wrap(err, "failed to count contributions")
	}
	circuits, err := m.store.ListCeremonies(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to list ceremonies")
	}
	if len(circuits) == 0 || count < len(circuits) {
		return false, nil
	}

	st := m.State()
	st.Step = StepComplete
	m.setState(st)

	m.participant.State = ceremony.ParticipantDone
	if err := m.store.SaveParticipant(ctx, m.participant); err != nil {
		return true, errors.Wrap(err, "failed to save participant")
	}
	return true, nil
}

// Reset abandons the current circuit without touching stored state.
// Collected entropy is discarded. Callers use it to recover from failures
// that happen before a turn exists; failures during a turn go through
// Abort instead.
func (m *Machine) Reset() {
	m.endOfCircuit()
}

// failTurn routes an unrecoverable step failure to Abort and surfaces the
// original error.
func (m *Machine) failTurn(ctx context.Context, cause error) error {
	if err := m.Abort(ctx, cause.Error()); err != nil {
		log.Error().Err(err).Msg("Abort cleanup failed")
	}
	return cause
}

// endOfCircuit clears all turn-local state and re-enters the pipeline for
// the next circuit.
func (m *Machine) endOfCircuit() {
	m.discardEntropy()

	m.mu.Lock()
	m.paramData = nil
	m.state = State{Step: StepInitialised}
	m.mu.Unlock()
}

func (m *Machine) discardEntropy() {
	m.mu.Lock()
	for i := range m.entropy {
		m.entropy[i] = 0
	}
	m.entropy = nil
	m.mu.Unlock()
}

// storeIndexReader answers the coordinator's initial index check from the
// authoritative store rather than the cache, so a cold cache cannot hide an
// already-current turn.
type storeIndexReader struct {
	store ceremony.Store
}

func (r storeIndexReader) CurrentIndex(ctx context.Context, ceremonyID string) (int, error) {
	cer, err := r.store.GetCeremony(ctx, ceremonyID)
	if err != nil {
		return 0, err
	}
	return cer.CurrentIndex, nil
}

func (m *Machine) reportProgress(p Progress) {
	m.mu.Lock()
	m.state.Status.Progress = p
	if p.Total > 0 {
		m.participant.ComputeProgress = float64(p.Count) / float64(p.Total)
	}
	m.mu.Unlock()
}

// appendEvent writes a participant audit event; failures are logged, not
// escalated, so a flaky event log cannot wedge a turn mid-step.
func (m *Machine) appendEvent(ctx context.Context, eventType, message string) {
	st := m.State()
	if st.Contribution == nil {
		return
	}
	i := st.Contribution.QueueIndex
	e := ceremony.NewEvent(st.Contribution.CeremonyID, eventType, message, &i, m.clock.Now())
	if err := m.events.Append(ctx, e); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Failed to append ceremony event")
	}
}
