package upload

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/iqss/dataverse-int/internal/logging"
)

// State is the lifecycle state of one UploadFile call.
type State int

const (
	StateIdle State = iota
	StateTransferring
	StateCompleting
	StateDone
	StateAborting
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransferring:
		return "transferring"
	case StateCompleting:
		return "completing"
	case StateDone:
		return "done"
	case StateAborting:
		return "aborting"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateCancelled
}

var transitions = map[State][]State{
	StateIdle:         {StateTransferring, StateAborting, StateFailed, StateCancelled},
	StateTransferring: {StateCompleting, StateDone, StateAborting, StateFailed, StateCancelled},
	StateCompleting:   {StateDone, StateAborting, StateFailed},
	StateAborting:     {StateFailed, StateCancelled},
}

// CompletedPart is the proof of one stored part, as sent to the
// completion endpoint.
type CompletedPart struct {
	Number int
	Token  string
}

// session is the per-call state. It is created by UploadFile and dropped
// when UploadFile returns.
type session struct {
	id       string
	targetID string
	fileName string
	fileSize int64
	dest     *Destination
	logger   *logging.Logger

	mu     sync.Mutex
	state  State
	tokens map[int]string
}

func newSession(targetID string, file File, logger *logging.Logger) *session {
	id := uuid.NewString()
	return &session{
		id:       id,
		targetID: targetID,
		fileName: file.Name(),
		fileSize: file.Size(),
		logger: logging.FromZerolog(logger.With().
			Str("session", id[:8]).
			Str("file", file.Name()).
			Str("dataset", targetID).
			Logger()),
		state:  StateIdle,
		tokens: make(map[int]string),
	}
}

// transition moves the session to a new state. Illegal transitions are
// programming errors and panic.
func (s *session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.logger.Debug().Str("from", s.state.String()).Str("to", to.String()).Msg("upload state")
			s.state = to
			return
		}
	}
	panic(fmt.Sprintf("upload: illegal transition %s -> %s", s.state, to))
}

func (s *session) recordPart(number int, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[number] = token
}

// completedParts returns the recorded tokens ordered by part number.
func (s *session) completedParts() []CompletedPart {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := make([]CompletedPart, 0, len(s.tokens))
	for n, token := range s.tokens {
		parts = append(parts, CompletedPart{Number: n, Token: token})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

func (s *session) newError(kind Kind, partNumber int, err error) *Error {
	return &Error{
		Kind:       kind,
		FileName:   s.fileName,
		TargetID:   s.targetID,
		PartNumber: partNumber,
		Err:        err,
	}
}
