package contrib

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clrfund/setup-mpc-ui/internal/ceremony"
	"github.com/clrfund/setup-mpc-ui/internal/queue"
)

// MockStore is a mock implementation of ceremony.Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveCeremony(ctx context.Context, c *ceremony.Ceremony) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) GetCeremony(ctx context.Context, id string) (*ceremony.Ceremony, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ceremony.Ceremony), args.Error(1)
}

func (m *MockStore) ListCeremonies(ctx context.Context, filter *ceremony.Filter) ([]*ceremony.Ceremony, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ceremony.Ceremony), args.Error(1)
}

func (m *MockStore) SetCeremonyState(ctx context.Context, id string, state ceremony.State) error {
	args := m.Called(ctx, id, state)
	return args.Error(0)
}

func (m *MockStore) MarkCeremonyComplete(ctx context.Context, id string, hash string) error {
	args := m.Called(ctx, id, hash)
	return args.Error(0)
}

func (m *MockStore) SaveParticipant(ctx context.Context, p *ceremony.Participant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockStore) GetParticipant(ctx context.Context, uid string) (*ceremony.Participant, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ceremony.Participant), args.Error(1)
}

func (m *MockStore) CountContributions(ctx context.Context, participantID string) (int, error) {
	args := m.Called(ctx, participantID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) JoinQueue(ctx context.Context, ceremonyID, participantID string) (*ceremony.Contribution, error) {
	args := m.Called(ctx, ceremonyID, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ceremony.Contribution), args.Error(1)
}

func (m *MockStore) StartContribution(ctx context.Context, c *ceremony.Contribution) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) GetContribution(ctx context.Context, ceremonyID, participantID string) (*ceremony.Contribution, error) {
	args := m.Called(ctx, ceremonyID, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ceremony.Contribution), args.Error(1)
}

func (m *MockStore) LastValidIndex(ctx context.Context, ceremonyID string) (int, error) {
	args := m.Called(ctx, ceremonyID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) ListRunningContributions(ctx context.Context) ([]*ceremony.Contribution, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ceremony.Contribution), args.Error(1)
}

func (m *MockStore) CompleteContribution(ctx context.Context, c *ceremony.Contribution) (int, error) {
	args := m.Called(ctx, c)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) InvalidateContribution(ctx context.Context, ceremonyID, participantID string) (int, error) {
	args := m.Called(ctx, ceremonyID, participantID)
	return args.Int(0), args.Error(1)
}

// MockEventLog is a mock implementation of ceremony.EventLog
type MockEventLog struct {
	mock.Mock
}

func (m *MockEventLog) Append(ctx context.Context, e *ceremony.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockEventLog) Latest(ctx context.Context, ceremonyID string) (*ceremony.Event, error) {
	args := m.Called(ctx, ceremonyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ceremony.Event), args.Error(1)
}

func (m *MockEventLog) List(ctx context.Context, ceremonyID string, limit int) ([]*ceremony.Event, error) {
	args := m.Called(ctx, ceremonyID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ceremony.Event), args.Error(1)
}

func (m *MockEventLog) Acknowledge(ctx context.Context, eventID string) error {
	args := m.Called(ctx, eventID)
	return args.Error(0)
}

// fakeParams keeps parameter files in memory.
type fakeParams struct {
	files    map[string][]byte
	fetchErr error
	upErr    error
}

func newFakeParams() *fakeParams {
	return &fakeParams{files: map[string][]byte{}}
}

func (f *fakeParams) key(ceremonyID string, index int) string {
	return fmt.Sprintf("%s/%d", ceremonyID, index)
}

func (f *fakeParams) FetchParams(ctx context.Context, ceremonyID string, index int) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	data, ok := f.files[f.key(ceremonyID, index)]
	if !ok {
		return nil, errors.Errorf("no params at index %d", index)
	}
	return data, nil
}

func (f *fakeParams) UploadParams(ctx context.Context, ceremonyID string, index int, data []byte) (string, error) {
	if f.upErr != nil {
		return "", f.upErr
	}
	key := f.key(ceremonyID, index)
	f.files[key] = data
	return key, nil
}

// fakeComputer records the entropy it was handed and emits one progress tick.
type fakeComputer struct {
	hash        string
	err         error
	seenEntropy []byte
	onCompute   func()
}

func (f *fakeComputer) Contribute(ctx context.Context, params, entropy []byte, progress chan<- Progress) ([]byte, string, error) {
	f.seenEntropy = append([]byte(nil), entropy...)
	if f.onCompute != nil {
		f.onCompute()
	}
	if f.err != nil {
		return nil, "", f.err
	}
	progress <- Progress{Count: 1, Total: 1}
	out := append([]byte("contributed:"), params...)
	return out, f.hash, nil
}

// fakeListener replays a fixed sequence of index updates.
type fakeListener struct {
	updates []queue.IndexUpdate
}

func (f *fakeListener) Subscribe(ctx context.Context, ceremonyID string) (*queue.Subscription, error) {
	ch := make(chan queue.IndexUpdate, len(f.updates))
	for _, u := range f.updates {
		ch <- u
	}
	close(ch)
	return queue.NewSubscription(ch, func() {}), nil
}

// fakePublisher records every published index advance.
type fakePublisher struct {
	published []int
	err       error
}

func (f *fakePublisher) PublishIndex(ctx context.Context, ceremonyID string, index int) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, index)
	return nil
}

// fakeObserver records every turn duration handed to it.
type fakeObserver struct {
	observed []float64
}

func (f *fakeObserver) Observe(v float64) {
	f.observed = append(f.observed, v)
}

type machineFixture struct {
	store     *MockStore
	events    *MockEventLog
	params    *fakeParams
	computer  *fakeComputer
	listener  *fakeListener
	publisher *fakePublisher
	durations *fakeObserver
	clock     *time2.MockClock
	machine   *Machine
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()

	f := &machineFixture{
		store:     new(MockStore),
		events:    new(MockEventLog),
		params:    newFakeParams(),
		computer:  &fakeComputer{hash: "0x1234567890abcdef1234567890abcdef"},
		listener:  &fakeListener{},
		publisher: &fakePublisher{},
		durations: &fakeObserver{},
		clock:     time2.NewMockClock(time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)),
	}
	participant := ceremony.NewParticipant("p-1", "auth-1", f.clock.Now())
	f.machine = NewMachine(f.store, f.events, f.params, f.computer, f.listener, f.publisher, f.clock, f.durations, participant)
	f.machine.readEntropy = func(b []byte) error {
		for i := range b {
			b[i] = 0xA5
		}
		return nil
	}
	return f
}

func (f *machineFixture) advanceTo(t *testing.T, step Step) {
	t.Helper()

	require.NoError(t, f.machine.Acknowledge())
	require.NoError(t, f.machine.Initialise())
	if step == StepInitialised {
		return
	}
	require.NoError(t, f.machine.CollectEntropy())
	if step == StepEntropyCollected {
		return
	}
	require.NoError(t, f.machine.Wait())
}

func TestMachineHappyPathTurn(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)

	contribution := &ceremony.Contribution{
		ParticipantID: "p-1",
		CeremonyID:    "cer-1",
		QueueIndex:    3,
		PriorIndex:    2,
	}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 3}, nil).Once()
	f.store.On("LastValidIndex", ctx, "cer-1").Return(2, nil).Once()
	f.store.On("StartContribution", ctx, mock.AnythingOfType("*ceremony.Contribution")).Return(nil).Once()
	f.store.On("CompleteContribution", ctx, mock.AnythingOfType("*ceremony.Contribution")).Return(4, nil).Once()
	f.events.On("Append", ctx, mock.AnythingOfType("*ceremony.Event")).Return(nil)

	f.params.files["cer-1/2"] = []byte("params-v2")

	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	// queueIndex == currentIndex: straight to RUNNING, no one to wait for.
	assert.Equal(t, StepRunning, f.machine.State().Step)
	assert.True(t, f.machine.State().Status.Ready)

	require.NoError(t, f.machine.RunTurn(ctx))

	// Turn finalized: new params stored under the participant's own index.
	assert.Equal(t, []byte("contributed:params-v2"), f.params.files["cer-1/3"])
	assert.Equal(t, []int{4}, f.publisher.published)

	// Cleanup re-enters the pipeline for the next circuit.
	st := f.machine.State()
	assert.Equal(t, StepInitialised, st.Step)
	assert.Nil(t, st.Contribution)
	assert.Empty(t, st.Hash)

	f.store.AssertExpectations(t)

	// The audit trail for one turn: start, download, compute, upload.
	var messages []string
	for _, call := range f.events.Calls {
		messages = append(messages, call.Arguments.Get(1).(*ceremony.Event).Message)
	}
	assert.Equal(t, []string{
		"Starting turn for index 3",
		"Parameters from participant 2 downloaded OK",
		"Contribution for participant 3 completed OK",
		"Parameters for participant 3 uploaded to cer-1/3",
	}, messages)
}

func TestMachineRefreshesChainHeadAtActivation(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)

	// Joined behind one other participant: at join time the newest
	// accepted contribution was index 1.
	contribution := &ceremony.Contribution{
		ParticipantID: "p-1",
		CeremonyID:    "cer-1",
		QueueIndex:    3,
		PriorIndex:    1,
	}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 2}, nil).Twice()

	// While this participant waited, index 2 completed and became the
	// chain head.
	f.store.On("LastValidIndex", ctx, "cer-1").Return(2, nil).Once()

	var started *ceremony.Contribution
	f.store.On("StartContribution", ctx, mock.Anything).Run(func(args mock.Arguments) {
		started = args.Get(1).(*ceremony.Contribution)
	}).Return(nil).Once()
	f.store.On("CompleteContribution", ctx, mock.Anything).Return(4, nil).Once()
	f.events.On("Append", ctx, mock.Anything).Return(nil)

	f.params.files["cer-1/1"] = []byte("params-v1")
	f.params.files["cer-1/2"] = []byte("params-v2")

	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	require.Equal(t, StepQueued, f.machine.State().Step)

	f.listener.updates = []queue.IndexUpdate{{CeremonyID: "cer-1", CurrentIndex: 3}}
	require.NoError(t, f.machine.AwaitTurn(ctx))
	require.NoError(t, f.machine.RunTurn(ctx))

	// The turn built on index 2, not the index observed at join time.
	require.NotNil(t, started)
	assert.Equal(t, 2, started.PriorIndex)
	assert.Equal(t, []byte("contributed:params-v2"), f.params.files["cer-1/3"])

	var messages []string
	for _, call := range f.events.Calls {
		messages = append(messages, call.Arguments.Get(1).(*ceremony.Event).Message)
	}
	assert.Contains(t, messages, "Parameters from participant 2 downloaded OK")
	f.store.AssertExpectations(t)
}

func TestMachineCompletedContributionRecord(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)

	contribution := &ceremony.Contribution{ParticipantID: "p-1", CeremonyID: "cer-1", QueueIndex: 1, PriorIndex: 0}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 1}, nil).Once()
	f.store.On("LastValidIndex", ctx, "cer-1").Return(0, nil).Once()
	f.store.On("StartContribution", ctx, mock.Anything).Return(nil).Once()
	f.events.On("Append", ctx, mock.Anything).Return(nil)
	f.params.files["cer-1/0"] = []byte("initial")

	var completed *ceremony.Contribution
	f.store.On("CompleteContribution", ctx, mock.Anything).Run(func(args mock.Arguments) {
		completed = args.Get(1).(*ceremony.Contribution)
	}).Return(2, nil).Once()

	// The clock only moves while the compute step runs, so the recorded
	// duration is exactly the compute time.
	f.computer.onCompute = func() { f.clock.Advance(42 * time.Second) }

	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	start := f.clock.Now()
	require.NoError(t, f.machine.RunTurn(ctx))

	require.NotNil(t, completed)
	assert.Equal(t, ceremony.ContributionComplete, completed.Status)
	assert.Equal(t, "12345678 90abcdef 12345678 90abcdef\n", completed.Hash)
	assert.Equal(t, "cer-1/1", completed.ParamsFile)
	assert.Equal(t, start, completed.StartTime)
	assert.Equal(t, 42.0, completed.Duration)
	assert.Equal(t, []float64{42.0}, f.durations.observed)

	// The original contribution handed out by the store is never mutated.
	assert.Equal(t, ceremony.ContributionStatus(""), contribution.Status)
}

func TestMachineTurnOrderGate(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)

	contribution := &ceremony.Contribution{ParticipantID: "p-1", CeremonyID: "cer-1", QueueIndex: 5, PriorIndex: 0}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	// Loaded at join and again by the pre-wait index check.
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 2}, nil).Twice()

	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	assert.Equal(t, StepQueued, f.machine.State().Step)

	// Not this participant's turn: running now is an invalid transition.
	err := f.machine.RunTurn(ctx)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// Activation arrives only when currentIndex reaches the queueIndex.
	f.listener.updates = []queue.IndexUpdate{
		{CeremonyID: "cer-1", CurrentIndex: 3},
		{CeremonyID: "cer-1", CurrentIndex: 4},
		{CeremonyID: "cer-1", CurrentIndex: 5},
	}
	require.NoError(t, f.machine.AwaitTurn(ctx))

	st := f.machine.State()
	assert.Equal(t, StepRunning, st.Step)
	assert.Equal(t, 5, st.CurrentIndex)
	assert.True(t, st.Status.Ready)
}

func TestMachineAbortCleansTurnLocalState(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)

	contribution := &ceremony.Contribution{ParticipantID: "p-1", CeremonyID: "cer-1", QueueIndex: 2, PriorIndex: 1}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 2}, nil).Once()
	f.store.On("LastValidIndex", ctx, "cer-1").Return(1, nil).Once()
	f.store.On("StartContribution", ctx, mock.Anything).Return(nil).Once()
	f.store.On("InvalidateContribution", ctx, "cer-1", "p-1").Return(3, nil).Once()
	f.events.On("Append", ctx, mock.Anything).Return(nil)

	// No params at index 1: the download step fails and the turn aborts.
	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	err := f.machine.RunTurn(ctx)
	require.Error(t, err)

	// The queue advanced past the dead turn.
	assert.Equal(t, []int{3}, f.publisher.published)
	f.store.AssertExpectations(t)

	// Cleanup leaves no residue: fresh entropy is collected for the next
	// circuit and the old buffer is gone.
	st := f.machine.State()
	assert.Equal(t, StepInitialised, st.Step)
	assert.Nil(t, st.Contribution)

	var sawAbort bool
	for _, call := range f.events.Calls {
		e := call.Arguments.Get(1).(*ceremony.Event)
		if e.EventType == ceremony.EventAborted {
			sawAbort = true
			assert.Contains(t, e.Message, "Error encountered while processing: ")
		}
	}
	assert.True(t, sawAbort)
}

func TestMachineEntropyDiscardedAfterComputeFailure(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepWaiting)
	f.computer.err = errors.New("compute blew up")

	contribution := &ceremony.Contribution{ParticipantID: "p-1", CeremonyID: "cer-1", QueueIndex: 1, PriorIndex: 0}
	f.store.On("JoinQueue", ctx, "cer-1", "p-1").Return(contribution, nil).Once()
	f.store.On("GetCeremony", ctx, "cer-1").Return(&ceremony.Ceremony{ID: "cer-1", CurrentIndex: 1}, nil).Once()
	f.store.On("LastValidIndex", ctx, "cer-1").Return(0, nil).Once()
	f.store.On("StartContribution", ctx, mock.Anything).Return(nil).Once()
	f.store.On("InvalidateContribution", ctx, "cer-1", "p-1").Return(2, nil).Once()
	f.events.On("Append", ctx, mock.Anything).Return(nil)
	f.params.files["cer-1/0"] = []byte("initial")

	require.NoError(t, f.machine.EnterQueue(ctx, "cer-1"))
	err := f.machine.RunTurn(ctx)
	require.ErrorContains(t, err, "compute blew up")

	// The compute saw the collected entropy once; the machine's copy was
	// wiped before the abort finished.
	assert.Equal(t, EntropySize, len(f.computer.seenEntropy))
	f.machine.mu.Lock()
	assert.Nil(t, f.machine.entropy)
	f.machine.mu.Unlock()

	// A second attempt must collect fresh entropy rather than reuse.
	require.NoError(t, f.machine.CollectEntropy())
	f.machine.mu.Lock()
	assert.Equal(t, EntropySize, len(f.machine.entropy))
	f.machine.mu.Unlock()
}

func TestMachineInvalidTransitions(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	// Entropy before acknowledgement.
	assert.ErrorIs(t, f.machine.CollectEntropy(), ErrInvalidTransition)

	// Skipping the queue entirely.
	assert.ErrorIs(t, f.machine.RunTurn(ctx), ErrInvalidTransition)

	require.NoError(t, f.machine.Acknowledge())
	// Double acknowledge.
	assert.ErrorIs(t, f.machine.Acknowledge(), ErrInvalidTransition)

	require.NoError(t, f.machine.Initialise())
	// Waiting without entropy.
	assert.ErrorIs(t, f.machine.Wait(), ErrInvalidTransition)

	// Abort with no turn in flight.
	assert.ErrorIs(t, f.machine.Abort(ctx, "nothing"), ErrNoActiveTurn)
}

func TestMachineFinishSeries(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.advanceTo(t, StepInitialised)

	circuits := []*ceremony.Ceremony{{ID: "cer-1"}, {ID: "cer-2"}}

	// Not yet finished: one of two circuits contributed.
	f.store.On("CountContributions", ctx, "p-1").Return(1, nil).Once()
	f.store.On("ListCeremonies", ctx, (*ceremony.Filter)(nil)).Return(circuits, nil).Once()
	done, err := f.machine.FinishSeries(ctx)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, StepInitialised, f.machine.State().Step)

	// All circuits contributed: the run is complete and the participant is
	// marked DONE.
	f.store.On("CountContributions", ctx, "p-1").Return(2, nil).Once()
	f.store.On("ListCeremonies", ctx, (*ceremony.Filter)(nil)).Return(circuits, nil).Once()
	f.store.On("SaveParticipant", ctx, mock.MatchedBy(func(p *ceremony.Participant) bool {
		return p.State == ceremony.ParticipantDone
	})).Return(nil).Once()

	done, err = f.machine.FinishSeries(ctx)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, StepComplete, f.machine.State().Step)
	f.store.AssertExpectations(t)
}
