package aggregate_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	pkgerrors "github.com/pkg/errors"

	"github.com/kestrelhq/escore/aggregate"
	"github.com/kestrelhq/escore/event"
)

type invited struct {
	Email string
}

func (invited) EventType() string { return "participant.invited" }

type responded struct {
	Accepted bool
}

func (responded) EventType() string { return "participant.responded" }

type inviteCmd struct {
	Email string
}

type respondCmd struct {
	Accepted bool
}

type participant struct {
	Email    string
	Accepted bool
}

func config() aggregate.Configuration[participant, inviteCmd, invited, respondCmd, responded] {
	return aggregate.Configuration[participant, inviteCmd, invited, respondCmd, responded]{
		AggregateType: "participant",
		Create: func(cmd inviteCmd) (invited, error) {
			if cmd.Email == "" {
				return invited{}, pkgerrors.New("email required")
			}
			return invited{Email: cmd.Email}, nil
		},
		Created: func(e invited) participant {
			return participant{Email: e.Email}
		},
		Update: func(state participant, cmd respondCmd) ([]responded, error) {
			if state.Accepted {
				return nil, pkgerrors.New("already responded")
			}
			return []responded{{Accepted: cmd.Accepted}}, nil
		},
		Updated: func(state participant, e responded) participant {
			state.Accepted = e.Accepted
			return state
		},
	}
}

func eventFor(body event.DomainEvent, seq int64) event.Event {
	return event.Event{ID: uuid.New(), AggregateSequence: seq, CreatedAt: time.Now(), Body: body}
}

func TestConfiguration(t *testing.T) {
	suite.Run(t, new(ConfigurationSuite))
}

type ConfigurationSuite struct {
	suite.Suite

	cfg aggregate.Configuration[participant, inviteCmd, invited, respondCmd, responded]
}

func (s *ConfigurationSuite) SetupTest() {
	s.cfg = config()
}

func (s *ConfigurationSuite) TestRehydrateFoldsCreationThenUpdates() {
	events := []event.Event{
		eventFor(invited{Email: "a@example.com"}, 1),
		eventFor(responded{Accepted: true}, 2),
	}
	state, err := s.cfg.Rehydrate(events)
	s.Require().NoError(err)
	s.Equal(participant{Email: "a@example.com", Accepted: true}, state)
}

func (s *ConfigurationSuite) TestRehydrateRejectsEmptyEventList() {
	_, err := s.cfg.Rehydrate(nil)
	s.Error(err)
}

func (s *ConfigurationSuite) TestRehydrateRejectsWrongFirstEventType() {
	events := []event.Event{eventFor(responded{Accepted: true}, 1)}
	_, err := s.cfg.Rehydrate(events)
	s.Error(err)
}

func (s *ConfigurationSuite) TestTryCreateReportsNotMineForUnrelatedCommand() {
	ok, _, err := s.cfg.TryCreate(respondCmd{Accepted: true}, nil)
	s.False(ok)
	s.NoError(err)
}

func (s *ConfigurationSuite) TestTryCreateRunsMatchingCommand() {
	ok, ev, err := s.cfg.TryCreate(inviteCmd{Email: "a@example.com"}, nil)
	s.True(ok)
	s.Require().NoError(err)
	s.Equal(invited{Email: "a@example.com"}, ev)
}

func (s *ConfigurationSuite) TestTryCreatePropagatesDomainError() {
	ok, _, err := s.cfg.TryCreate(inviteCmd{Email: ""}, nil)
	s.True(ok)
	s.Error(err)
}

func (s *ConfigurationSuite) TestTryUpdateRehydratesThenRuns() {
	events := []event.Event{eventFor(invited{Email: "a@example.com"}, 1)}
	ok, evs, err := s.cfg.TryUpdate(events, respondCmd{Accepted: true}, nil)
	s.True(ok)
	s.Require().NoError(err)
	s.Require().Len(evs, 1)
	s.Equal(responded{Accepted: true}, evs[0])
}

func (s *ConfigurationSuite) TestTryUpdateReportsNotMineForUnrelatedCommand() {
	events := []event.Event{eventFor(invited{Email: "a@example.com"}, 1)}
	ok, _, err := s.cfg.TryUpdate(events, inviteCmd{Email: "b@example.com"}, nil)
	s.False(ok)
	s.NoError(err)
}

func TestStatelessUpdatedIsIdentity(t *testing.T) {
	cfg := aggregate.Stateless[inviteCmd, invited, respondCmd, responded](
		"singleton",
		func(cmd inviteCmd) (invited, error) { return invited{Email: cmd.Email}, nil },
		func(cmd respondCmd) ([]responded, error) { return []responded{{Accepted: cmd.Accepted}}, nil },
	)

	events := []event.Event{
		eventFor(invited{Email: "a@example.com"}, 1),
		eventFor(responded{Accepted: true}, 2),
		eventFor(responded{Accepted: false}, 3),
	}
	state, err := cfg.Rehydrate(events)
	if err != nil {
		t.Fatal(err)
	}
	if state != (struct{}{}) {
		t.Fatalf("expected identity state, got %+v", state)
	}
}

func TestWithProjectionInjectsCollaborator(t *testing.T) {
	type takenNames map[string]bool
	projection := takenNames{"taken@example.com": true}

	cfg := aggregate.WithProjection[takenNames, participant, inviteCmd, invited, respondCmd, responded](
		"participant",
		projection,
		func(p takenNames, cmd inviteCmd) (invited, error) {
			if p[cmd.Email] {
				return invited{}, pkgerrors.New("already invited")
			}
			return invited{Email: cmd.Email}, nil
		},
		func(e invited) participant { return participant{Email: e.Email} },
		func(p takenNames, state participant, cmd respondCmd) ([]responded, error) {
			return []responded{{Accepted: cmd.Accepted}}, nil
		},
		func(state participant, e responded) participant {
			state.Accepted = e.Accepted
			return state
		},
	)

	ok, _, err := cfg.TryCreate(inviteCmd{Email: "taken@example.com"}, nil)
	if !ok || err == nil {
		t.Fatalf("expected projection-driven rejection, ok=%v err=%v", ok, err)
	}
}

type stampedMeta struct{ actor string }

func (stampedMeta) CorrelationID() uuid.UUID { return uuid.Nil }

type stamped struct {
	Email string
	Actor string
}

func (stamped) EventType() string { return "participant.invited.stamped" }

// TestWithMetadataUsesTheDispatchedCommandsMetadata proves metadata is
// threaded through per call, not frozen at Configuration construction: two
// TryCreate calls against the same cfg with different meta values must stamp
// different actors.
func TestWithMetadataUsesTheDispatchedCommandsMetadata(t *testing.T) {
	cfg := aggregate.WithMetadata[participant, inviteCmd, stamped, respondCmd, responded](
		"participant",
		func(meta event.Metadata, cmd inviteCmd) (stamped, error) {
			actor := ""
			if m, ok := meta.(stampedMeta); ok {
				actor = m.actor
			}
			return stamped{Email: cmd.Email, Actor: actor}, nil
		},
		func(e stamped) participant { return participant{Email: e.Email} },
		func(meta event.Metadata, state participant, cmd respondCmd) ([]responded, error) {
			return []responded{{Accepted: cmd.Accepted}}, nil
		},
		func(state participant, e responded) participant {
			state.Accepted = e.Accepted
			return state
		},
	)

	_, evA, err := cfg.TryCreate(inviteCmd{Email: "a@example.com"}, stampedMeta{actor: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	_, evB, err := cfg.TryCreate(inviteCmd{Email: "a@example.com"}, stampedMeta{actor: "bob"})
	if err != nil {
		t.Fatal(err)
	}

	if evA.(stamped).Actor != "alice" || evB.(stamped).Actor != "bob" {
		t.Fatalf("expected per-call metadata, got %+v and %+v", evA, evB)
	}
}
