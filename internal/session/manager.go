package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/anamnesi/internal/capture"
	"github.com/yoockh/anamnesi/internal/metrics"
)

// Interview is one live interview: its controller and the two inputs a
// client can feed it through.
type Interview struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	Controller *Controller
	PCM        *capture.PipeDevice
	Relay      *capture.Relay
}

// ManagerDeps are the collaborators shared by every interview.
type ManagerDeps struct {
	Transcriber Transcriber
	Analyzer    Analyzer
	Publisher   Publisher
	Ledger      ChunkLedger
	Archiver    Archiver
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
}

// Manager keeps the live interviews of this process in memory.
type Manager struct {
	deps    ManagerDeps
	opts    Options
	capture capture.Config

	mu         sync.RWMutex
	interviews map[string]*Interview
}

func NewManager(deps ManagerDeps, opts Options, captureCfg capture.Config) *Manager {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	return &Manager{
		deps:       deps,
		opts:       opts,
		capture:    captureCfg,
		interviews: make(map[string]*Interview),
	}
}

func (m *Manager) Create(ownerID string) *Interview {
	id := uuid.NewString()
	pcm := capture.NewPipeDevice()
	relay := capture.NewRelay()

	ctrl := NewController(id, ownerID, Deps{
		Sources: map[SourceKind]capture.Source{
			SourcePCM:     capture.NewSession(pcm, m.capture, m.deps.Logger),
			SourceEncoded: relay,
		},
		Transcriber: m.deps.Transcriber,
		Analyzer:    m.deps.Analyzer,
		Publisher:   m.deps.Publisher,
		Ledger:      m.deps.Ledger,
		Archiver:    m.deps.Archiver,
		Metrics:     m.deps.Metrics,
		Logger:      m.deps.Logger,
	}, m.opts)

	iv := &Interview{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  time.Now().UTC(),
		Controller: ctrl,
		PCM:        pcm,
		Relay:      relay,
	}

	m.mu.Lock()
	m.interviews[id] = iv
	m.mu.Unlock()

	m.deps.Logger.WithFields(logrus.Fields{"interview_id": id, "owner_id": ownerID}).Info("interview created")
	return iv
}

func (m *Manager) Get(id string) (*Interview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iv, ok := m.interviews[id]
	return iv, ok
}

// List returns the owner's interviews, oldest first. An empty owner lists
// all of them.
func (m *Manager) List(ownerID string) []*Interview {
	m.mu.RLock()
	out := make([]*Interview, 0, len(m.interviews))
	for _, iv := range m.interviews {
		if ownerID == "" || iv.OwnerID == ownerID {
			out = append(out, iv)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Remove closes the interview's controller and forgets it.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	iv, ok := m.interviews[id]
	delete(m.interviews, id)
	m.mu.Unlock()

	if ok {
		iv.Controller.Close()
	}
	return ok
}

func (m *Manager) Close() {
	m.mu.Lock()
	all := m.interviews
	m.interviews = make(map[string]*Interview)
	m.mu.Unlock()

	for _, iv := range all {
		iv.Controller.Close()
	}
}
